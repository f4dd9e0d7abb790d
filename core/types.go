package core

import (
	"time"
)

// TractionMetrics captures the business traction signals for a company.
// RevenueGrowth and UserGrowth are optional; a nil value means the signal
// was not available when the record was produced.
type TractionMetrics struct {
	FundingAmount   float64  `json:"funding_amount"`
	EmployeeCount   int      `json:"employee_count"`
	GrowthRate      float64  `json:"growth_rate"`
	MarketSentiment float64  `json:"market_sentiment"`
	RevenueGrowth   *float64 `json:"revenue_growth,omitempty"`
	UserGrowth      *float64 `json:"user_growth,omitempty"`
}

// FeatureRecord is one company's feature snapshot at a point in time.
// Records are immutable; a new write produces a new timestamped version.
type FeatureRecord struct {
	CompanyID        string          `json:"company_id"`
	FeatureView      string          `json:"feature_view"`
	UserOverlapScore float64         `json:"user_overlap_score"`
	Traction         TractionMetrics `json:"traction_metrics"`
	CultureVector    []float64       `json:"culture_vector"`
	MatchOutcome     *int            `json:"match_outcome,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Clone returns a deep copy of the record. Callers that hand records to a
// cache or across goroutines must clone so no reader observes mutation.
func (r FeatureRecord) Clone() FeatureRecord {
	out := r
	if r.CultureVector != nil {
		out.CultureVector = make([]float64, len(r.CultureVector))
		copy(out.CultureVector, r.CultureVector)
	}
	if r.Traction.RevenueGrowth != nil {
		v := *r.Traction.RevenueGrowth
		out.Traction.RevenueGrowth = &v
	}
	if r.Traction.UserGrowth != nil {
		v := *r.Traction.UserGrowth
		out.Traction.UserGrowth = &v
	}
	if r.MatchOutcome != nil {
		v := *r.MatchOutcome
		out.MatchOutcome = &v
	}
	return out
}

// FeatureView is a named schema generation for feature records. Records
// across different views are never compared; all culture vectors within a
// view share the declared dimension.
type FeatureView struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// ModelStatus is the lifecycle state of a scoring model version.
type ModelStatus string

const (
	ModelStaged  ModelStatus = "staged"
	ModelActive  ModelStatus = "active"
	ModelRetired ModelStatus = "retired"
)

// ModelVersion describes one version of the scoring model. Exactly one
// version is active at a time.
type ModelVersion struct {
	VersionID    string      `json:"version_id"`
	EmbeddingDim int         `json:"embedding_dim"`
	ActivatedAt  time.Time   `json:"activated_at,omitempty"`
	Status       ModelStatus `json:"status"`
}

// RejectedRecord pairs a rejected write with the reason it was refused.
type RejectedRecord struct {
	Record FeatureRecord `json:"record"`
	Reason string        `json:"reason"`
}

// WriteResult reports the outcome of a WriteFeatures batch. A batch may be
// partially accepted; each rejection carries its own reason.
type WriteResult struct {
	Accepted int              `json:"accepted_count"`
	Rejected []RejectedRecord `json:"rejected,omitempty"`
}

// OnlineResult holds the latest records for an online lookup. StaleIDs lists
// companies whose latest record is older than the configured staleness bound;
// they are still served, never silently.
type OnlineResult struct {
	Found    []FeatureRecord `json:"found"`
	Missing  []string        `json:"missing,omitempty"`
	StaleIDs []string        `json:"stale_ids,omitempty"`
}

// FeatureStats is a read-only aggregate over one feature view. Eventually
// consistent; not part of any correctness invariant.
type FeatureStats struct {
	TotalCompanies int       `json:"total_companies"`
	FeatureCount   int       `json:"feature_count"`
	LastUpdated    time.Time `json:"last_updated"`
	StorageSize    int64     `json:"storage_size_bytes"`
}

// FactorContribution is one compatibility factor's share of a final score.
type FactorContribution struct {
	Factor       string  `json:"factor"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// RankedResult is one scored candidate in a recommendation response.
// Produced fresh per request and never persisted.
type RankedResult struct {
	CandidateID string               `json:"candidate_id"`
	Score       float64              `json:"score"`
	Confidence  float64              `json:"confidence"`
	Factors     []FactorContribution `json:"factors,omitempty"`
	Rank        int                  `json:"rank"`
}

// HealthStatus is the aggregate readiness report for external health checks.
type HealthStatus struct {
	Status             string `json:"status"` // "ok", "degraded", "down"
	ActiveModelVersion string `json:"active_model_version,omitempty"`
	LastWriteAge       int64  `json:"last_write_age_seconds"`
}
