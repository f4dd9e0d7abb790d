// Package ranking turns a query company and a candidate pool into a scored,
// explainable, top-K recommendation list.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/synapselabs/partnermatch/core"
	"github.com/synapselabs/partnermatch/metrics"
)

// Config tunes the ranking engine. Zero values fall back to defaults.
type Config struct {
	// FeatureView is the default view queried when a request names none.
	FeatureView string
	// Weights for the scoring terms; normalized to sum to 1.
	Weights Weights
	// TopKDefault and TopKMax bound the result list size.
	TopKDefault int
	TopKMax     int
	// PoolMax caps the candidate pool; larger pools are deterministically
	// narrowed and the response flags it.
	PoolMax int
	// Concurrency bounds the parallel candidate feature lookups.
	Concurrency int
	// BatchConcurrency bounds the companies ranked in parallel by
	// BatchRecommend.
	BatchConcurrency int
	// RequestTimeout bounds one Recommend call end to end.
	RequestTimeout time.Duration
	// LookupTimeout bounds each candidate feature lookup.
	LookupTimeout time.Duration
	// RetryAttempts and RetryBackoff govern transient store-read retries
	// before falling back to the cache in degraded mode.
	RetryAttempts int
	RetryBackoff  time.Duration
	// StalenessBound feeds the timing-compatibility term and the degraded
	// staleness reporting.
	StalenessBound time.Duration
	// MinScore drops candidates scoring below the threshold.
	MinScore float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		FeatureView:      "company_features",
		Weights:          DefaultWeights(),
		TopKDefault:      10,
		TopKMax:          100,
		PoolMax:          1000,
		Concurrency:      16,
		BatchConcurrency: 5,
		RequestTimeout:   2 * time.Second,
		LookupTimeout:    250 * time.Millisecond,
		RetryAttempts:    2,
		RetryBackoff:     20 * time.Millisecond,
		StalenessBound:   24 * time.Hour,
	}
}

// Request is one recommendation query.
type Request struct {
	CompanyID   string   `json:"company_id"`
	FeatureView string   `json:"feature_view,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Filters     *Filters `json:"filters,omitempty"`
	// Candidates, when set, is the explicit candidate pool; otherwise the
	// pool is every company in the view minus the query and exclusions.
	Candidates []string `json:"candidates,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
}

// Recommendation is a ranked result list with its serving metadata. A
// degraded response is always labeled, never indistinguishable from a
// healthy one.
type Recommendation struct {
	Results           []core.RankedResult `json:"results"`
	Degraded          bool                `json:"degraded"`
	StalenessSeconds  int64               `json:"staleness_age_seconds,omitempty"`
	PoolSizeUsed      int                 `json:"pool_size_used"`
	PoolSampled       bool                `json:"pool_sampled,omitempty"`
	DroppedCandidates int                 `json:"dropped_candidates,omitempty"`
	ModelVersion      string              `json:"model_version"`
}

// Explanation breaks down why one candidate matches one query company.
type Explanation struct {
	QueryCompany      string                    `json:"query_company"`
	CandidateID       string                    `json:"candidate_id"`
	Score             float64                   `json:"overall_score"`
	Confidence        float64                   `json:"confidence"`
	Factors           []core.FactorContribution `json:"feature_contributions"`
	CulturalAlignment float64                   `json:"cultural_alignment"`
	TimingScore       float64                   `json:"timing_score"`
	ModelVersion      string                    `json:"model_version"`
}

// Engine implements candidate retrieval and ranking on top of the feature
// store and model registry. The cache reference is the degraded-mode
// fallback when the store is unreachable.
type Engine struct {
	store    core.FeatureStore
	cache    core.ServingCache
	registry core.ModelRegistry
	cfg      Config
	metrics  *metrics.Manager
}

// NewEngine creates a ranking engine. cache and m may be nil.
func NewEngine(store core.FeatureStore, cache core.ServingCache, registry core.ModelRegistry, cfg Config, m *metrics.Manager) *Engine {
	def := DefaultConfig()
	if cfg.FeatureView == "" {
		cfg.FeatureView = def.FeatureView
	}
	if cfg.TopKDefault <= 0 {
		cfg.TopKDefault = def.TopKDefault
	}
	if cfg.TopKMax <= 0 {
		cfg.TopKMax = def.TopKMax
	}
	if cfg.PoolMax <= 0 {
		cfg.PoolMax = def.PoolMax
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.StalenessBound <= 0 {
		cfg.StalenessBound = def.StalenessBound
	}
	cfg.Weights = cfg.Weights.normalized()
	return &Engine{store: store, cache: cache, registry: registry, cfg: cfg, metrics: m}
}

// lookupResult carries one candidate fetch outcome across the worker pool.
type lookupResult struct {
	id       string
	record   core.FeatureRecord
	stale    bool
	degraded bool
	err      error
}

// Recommend ranks partnership candidates for a company. If the store is
// degraded it serves from cached data and labels the response; a request
// whose deadline expires before any candidate was scored returns a timeout
// error rather than an empty success.
func (e *Engine) Recommend(ctx context.Context, req Request) (Recommendation, error) {
	started := time.Now()

	if req.CompanyID == "" {
		return Recommendation{}, fmt.Errorf("%w: company_id cannot be empty", core.ErrInvalidRecord)
	}
	view := req.FeatureView
	if view == "" {
		view = e.cfg.FeatureView
	}
	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopKDefault
	}
	if topK > e.cfg.TopKMax {
		topK = e.cfg.TopKMax
	}

	model, err := e.registry.GetActive()
	if err != nil {
		return Recommendation{}, fmt.Errorf("resolve active model: %w", err)
	}

	filter, err := compileFilters(req.Filters)
	if err != nil {
		return Recommendation{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	query := e.lookup(ctx, view, req.CompanyID)
	if query.err != nil {
		if core.Classify(query.err) == core.KindNotFound {
			return Recommendation{}, fmt.Errorf("%w: query company %s", core.ErrCompanyNotFound, req.CompanyID)
		}
		return Recommendation{}, fmt.Errorf("fetch query company %s: %w", req.CompanyID, query.err)
	}

	pool, sampled, err := e.buildPool(ctx, view, req)
	if err != nil {
		return Recommendation{}, err
	}

	rec := Recommendation{
		ModelVersion: model.VersionID,
		PoolSizeUsed: len(pool),
		PoolSampled:  sampled,
		Degraded:     query.degraded,
	}

	lookups := e.fanOut(ctx, view, pool)

	now := time.Now()
	maxAge := now.Sub(query.record.Timestamp)
	var scored []core.RankedResult
	for _, lr := range lookups {
		if lr.err != nil {
			// Candidates that could not be fetched in time are dropped
			// from the pool, not fatal to the request.
			rec.DroppedCandidates++
			continue
		}
		if lr.degraded {
			rec.Degraded = true
		}
		// A candidate without a culture vector is excluded outright.
		// Scoring it with a zero default would bias it toward
		// "dissimilar", which is a silent correctness bug.
		if len(lr.record.CultureVector) == 0 {
			continue
		}

		ok, err := filter.Match(lr.record)
		if err != nil {
			return Recommendation{}, err
		}
		if !ok {
			continue
		}

		score, factors, err := scoreCandidate(query.record, lr.record, e.cfg.Weights, e.cfg.StalenessBound, now)
		if err != nil {
			rec.DroppedCandidates++
			continue
		}
		if score < e.cfg.MinScore {
			continue
		}
		if age := now.Sub(lr.record.Timestamp); age > maxAge {
			maxAge = age
		}
		scored = append(scored, core.RankedResult{
			CandidateID: lr.id,
			Score:       score,
			Confidence:  confidence(query.record, lr.record, query.stale, lr.stale),
			Factors:     factors,
		})
	}

	if len(scored) == 0 && ctx.Err() != nil {
		return Recommendation{}, fmt.Errorf("%w: no candidate scored before deadline", core.ErrTimeout)
	}

	// Deterministic ordering: score descending, candidate ID ascending on
	// ties.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CandidateID < scored[j].CandidateID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	rec.Results = scored

	if rec.Degraded || len(scored) > 0 && maxAge > e.cfg.StalenessBound {
		rec.StalenessSeconds = int64(maxAge.Seconds())
	}

	e.metrics.ObserveRanking(time.Since(started), rec.PoolSizeUsed, rec.DroppedCandidates, rec.Degraded)
	return rec, nil
}

// BatchRecommend ranks several companies with bounded parallelism. Failures
// are reported per company; one bad company never fails the batch.
func (e *Engine) BatchRecommend(ctx context.Context, companyIDs []string, topK int) (map[string]Recommendation, map[string]string) {
	results := make(map[string]Recommendation, len(companyIDs))
	failures := make(map[string]string)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(int64(e.cfg.BatchConcurrency))

	for _, id := range companyIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			failures[id] = err.Error()
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(companyID string) {
			defer wg.Done()
			defer sem.Release(1)

			rec, err := e.Recommend(ctx, Request{CompanyID: companyID, TopK: topK})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[companyID] = err.Error()
				return
			}
			results[companyID] = rec
		}(id)
	}
	wg.Wait()
	return results, failures
}

// Explain breaks down the match between a query company and one candidate.
// topFeatures bounds the factor list; zero means all factors.
func (e *Engine) Explain(ctx context.Context, companyID, candidateID string, topFeatures int) (Explanation, error) {
	model, err := e.registry.GetActive()
	if err != nil {
		return Explanation{}, fmt.Errorf("resolve active model: %w", err)
	}

	res, err := e.store.GetOnlineFeatures(ctx, e.cfg.FeatureView, []string{companyID, candidateID})
	if err != nil {
		return Explanation{}, fmt.Errorf("fetch features: %w", err)
	}
	records := make(map[string]core.FeatureRecord, len(res.Found))
	for _, r := range res.Found {
		records[r.CompanyID] = r
	}
	query, ok := records[companyID]
	if !ok {
		return Explanation{}, fmt.Errorf("%w: query company %s", core.ErrCompanyNotFound, companyID)
	}
	candidate, ok := records[candidateID]
	if !ok {
		return Explanation{}, fmt.Errorf("%w: candidate %s", core.ErrCompanyNotFound, candidateID)
	}

	now := time.Now()
	score, factors, err := scoreCandidate(query, candidate, e.cfg.Weights, e.cfg.StalenessBound, now)
	if err != nil {
		return Explanation{}, fmt.Errorf("score candidate %s: %w", candidateID, err)
	}

	sort.Slice(factors, func(i, j int) bool {
		if factors[i].Contribution != factors[j].Contribution {
			return factors[i].Contribution > factors[j].Contribution
		}
		return factors[i].Factor < factors[j].Factor
	})
	if topFeatures > 0 && len(factors) > topFeatures {
		factors = factors[:topFeatures]
	}

	stale := make(map[string]bool, len(res.StaleIDs))
	for _, id := range res.StaleIDs {
		stale[id] = true
	}

	var cultural float64
	if len(query.CultureVector) > 0 && len(candidate.CultureVector) > 0 {
		cos, cosErr := core.CosineSimilarity(query.CultureVector, candidate.CultureVector)
		if cosErr == nil {
			cultural = clamp01(cos)
		}
	}

	return Explanation{
		QueryCompany:      companyID,
		CandidateID:       candidateID,
		Score:             score,
		Confidence:        confidence(query, candidate, stale[companyID], stale[candidateID]),
		Factors:           factors,
		CulturalAlignment: cultural,
		TimingScore:       timingCompatibility(query.Timestamp, candidate.Timestamp, e.cfg.StalenessBound, now),
		ModelVersion:      model.VersionID,
	}, nil
}

// buildPool assembles the candidate pool: the explicit request set if given,
// otherwise every company in the view. The query company and exclusions are
// always removed. Pools over the cap are narrowed by sorted company ID, a
// deterministic pre-filter surfaced via the sampled flag.
func (e *Engine) buildPool(ctx context.Context, view string, req Request) ([]string, bool, error) {
	var pool []string
	if len(req.Candidates) > 0 {
		pool = append(pool, req.Candidates...)
	} else {
		ids, err := e.store.ListCompanies(ctx, view)
		if err != nil {
			return nil, false, fmt.Errorf("list candidates: %w", err)
		}
		pool = ids
	}

	excluded := make(map[string]bool, len(req.Exclude)+1)
	excluded[req.CompanyID] = true
	for _, id := range req.Exclude {
		excluded[id] = true
	}

	filtered := pool[:0]
	seen := make(map[string]bool, len(pool))
	for _, id := range pool {
		if excluded[id] || seen[id] {
			continue
		}
		seen[id] = true
		filtered = append(filtered, id)
	}
	sort.Strings(filtered)

	if len(filtered) > e.cfg.PoolMax {
		return filtered[:e.cfg.PoolMax], true, nil
	}
	return filtered, false, nil
}

// fanOut fetches candidate features with bounded worker concurrency and a
// per-lookup deadline, aggregating once all lookups return.
func (e *Engine) fanOut(ctx context.Context, view string, pool []string) []lookupResult {
	results := make([]lookupResult, len(pool))
	sem := semaphore.NewWeighted(int64(e.cfg.Concurrency))
	var wg sync.WaitGroup

	for i, id := range pool {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = lookupResult{id: id, err: err}
			continue
		}
		wg.Add(1)
		go func(slot int, companyID string) {
			defer wg.Done()
			defer sem.Release(1)
			results[slot] = e.lookup(ctx, view, companyID)
		}(i, id)
	}
	wg.Wait()
	return results
}

// lookup fetches one company's latest features, retrying transient store
// failures with backoff and falling back to the serving cache in degraded
// mode.
func (e *Engine) lookup(ctx context.Context, view, companyID string) lookupResult {
	lr := lookupResult{id: companyID}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
			}
			if ctx.Err() != nil {
				break
			}
		}

		lctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
		res, err := e.store.GetOnlineFeatures(lctx, view, []string{companyID})
		cancel()
		if err == nil {
			if len(res.Found) == 0 {
				lr.err = fmt.Errorf("%w: %s", core.ErrCompanyNotFound, companyID)
				return lr
			}
			lr.record = res.Found[0]
			lr.stale = len(res.StaleIDs) > 0
			return lr
		}
		if !core.IsRetryable(err) {
			lr.err = err
			return lr
		}
		lastErr = err
	}

	// Store unreachable: serve the cached snapshot if one exists and label
	// the response degraded.
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, view, companyID); ok {
			lr.record = cached
			lr.stale = true
			lr.degraded = true
			return lr
		}
	}
	lr.degraded = true
	lr.err = lastErr
	if lr.err == nil {
		lr.err = errors.New("lookup failed")
	}
	return lr
}
