package ranking

import (
	"math"
	"time"

	"github.com/synapselabs/partnermatch/core"
)

// Compatibility factor names surfaced in explanations.
const (
	FactorCultureSimilarity  = "culture_similarity"
	FactorFundingAlignment   = "funding_alignment"
	FactorSizeAlignment      = "company_size_alignment"
	FactorGrowthAlignment    = "growth_alignment"
	FactorSentimentAlignment = "sentiment_alignment"
	FactorTiming             = "timing_compatibility"
)

// Weights tunes the contribution of each scoring term. They are
// configuration, not constants, so deployments can retune without touching
// the scoring math.
type Weights struct {
	Culture  float64 `json:"culture" yaml:"culture"`
	Traction float64 `json:"traction" yaml:"traction"`
	Timing   float64 `json:"timing" yaml:"timing"`
}

// DefaultWeights keeps culture similarity dominant with visible traction and
// timing contributions.
func DefaultWeights() Weights {
	return Weights{Culture: 0.5, Traction: 0.3, Timing: 0.2}
}

// normalized scales the weights to sum to 1 so scores stay in [0,1].
func (w Weights) normalized() Weights {
	sum := w.Culture + w.Traction + w.Timing
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{Culture: w.Culture / sum, Traction: w.Traction / sum, Timing: w.Timing / sum}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// scoreCandidate computes the weighted match score and its per-factor
// breakdown. When either side lacks a culture vector the pair scores on
// traction and timing alone, with the culture factor contributing zero
// rather than a fabricated similarity.
func scoreCandidate(query, candidate core.FeatureRecord, w Weights, staleness time.Duration, now time.Time) (float64, []core.FactorContribution, error) {
	var culture float64
	if len(query.CultureVector) > 0 && len(candidate.CultureVector) > 0 {
		cos, err := core.CosineSimilarity(query.CultureVector, candidate.CultureVector)
		if err != nil {
			return 0, nil, err
		}
		culture = clamp01(cos)
	}

	funding := fundingAlignment(query.Traction.FundingAmount, candidate.Traction.FundingAmount)
	size := sizeAlignment(query.Traction.EmployeeCount, candidate.Traction.EmployeeCount)
	growth := growthAlignment(query.Traction.GrowthRate, candidate.Traction.GrowthRate)
	sentiment := sentimentAlignment(query.Traction.MarketSentiment, candidate.Traction.MarketSentiment)
	traction := (funding + size + growth + sentiment) / 4

	timing := timingCompatibility(query.Timestamp, candidate.Timestamp, staleness, now)

	score := w.Culture*culture + w.Traction*traction + w.Timing*timing

	subWeight := w.Traction / 4
	factors := []core.FactorContribution{
		{Factor: FactorCultureSimilarity, Value: culture, Weight: w.Culture, Contribution: w.Culture * culture},
		{Factor: FactorFundingAlignment, Value: funding, Weight: subWeight, Contribution: subWeight * funding},
		{Factor: FactorSizeAlignment, Value: size, Weight: subWeight, Contribution: subWeight * size},
		{Factor: FactorGrowthAlignment, Value: growth, Weight: subWeight, Contribution: subWeight * growth},
		{Factor: FactorSentimentAlignment, Value: sentiment, Weight: subWeight, Contribution: subWeight * sentiment},
		{Factor: FactorTiming, Value: timing, Weight: w.Timing, Contribution: w.Timing * timing},
	}
	return clamp01(score), factors, nil
}

// fundingAlignment measures how comparable two funding stages are. The
// ratio is boosted so early-stage pairs aren't crushed to zero.
func fundingAlignment(a, b float64) float64 {
	ratio := math.Min(a, b) / math.Max(math.Max(a, b), 1)
	return ratio*0.8 + 0.2
}

func sizeAlignment(a, b int) float64 {
	ratio := float64(min(a, b)) / math.Max(float64(max(a, b)), 1)
	return ratio*0.7 + 0.3
}

// growthAlignment treats growth rates within 100 percentage points as
// partially aligned, beyond that as incompatible.
func growthAlignment(a, b float64) float64 {
	return clamp01(1 - math.Abs(a-b)/100)
}

func sentimentAlignment(a, b float64) float64 {
	return math.Max(0, 1-math.Abs(a-b))
}

// timingCompatibility derives a [0,1] term from how fresh both companies'
// records are relative to the staleness bound. Two fresh records score 1;
// records at or past the bound contribute nothing.
func timingCompatibility(queryTS, candidateTS time.Time, staleness time.Duration, now time.Time) float64 {
	if staleness <= 0 {
		return 1
	}
	return (recency(queryTS, staleness, now) + recency(candidateTS, staleness, now)) / 2
}

func recency(ts time.Time, staleness time.Duration, now time.Time) float64 {
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	return clamp01(1 - float64(age)/float64(staleness))
}

// confidence reflects how many scoring inputs were actually present versus
// missing for the pair. Optional traction signals and record freshness on
// either side each count; a pair with everything present scores 1.
func confidence(query, candidate core.FeatureRecord, queryStale, candidateStale bool) float64 {
	inputs := []bool{
		len(query.CultureVector) > 0,
		query.Traction.RevenueGrowth != nil,
		query.Traction.UserGrowth != nil,
		candidate.Traction.RevenueGrowth != nil,
		candidate.Traction.UserGrowth != nil,
		!queryStale,
		!candidateStale,
	}
	present := 0
	for _, ok := range inputs {
		if ok {
			present++
		}
	}
	return float64(present) / float64(len(inputs))
}
