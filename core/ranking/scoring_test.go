package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/synapselabs/partnermatch/core"
)

func scoringRecord(companyID string, vec []float64, ts time.Time) core.FeatureRecord {
	return core.FeatureRecord{
		CompanyID:        companyID,
		UserOverlapScore: 0.5,
		Traction: core.TractionMetrics{
			FundingAmount:   1_000_000,
			EmployeeCount:   50,
			GrowthRate:      20,
			MarketSentiment: 0.5,
		},
		CultureVector: vec,
		Timestamp:     ts,
	}
}

func TestScoreCandidateOrdersBySimilarity(t *testing.T) {
	now := time.Now()
	bound := 24 * time.Hour
	w := DefaultWeights()

	query := scoringRecord("query", []float64{1, 0, 0}, now)
	aligned := scoringRecord("aligned", []float64{1, 0, 0}, now)
	orthogonal := scoringRecord("orthogonal", []float64{0, 1, 0}, now)

	alignedScore, _, err := scoreCandidate(query, aligned, w, bound, now)
	if err != nil {
		t.Fatalf("scoreCandidate() error: %v", err)
	}
	orthogonalScore, _, err := scoreCandidate(query, orthogonal, w, bound, now)
	if err != nil {
		t.Fatalf("scoreCandidate() error: %v", err)
	}

	if alignedScore <= orthogonalScore {
		t.Errorf("aligned score %v should beat orthogonal score %v", alignedScore, orthogonalScore)
	}
	// Identical traction and fresh records: the gap is exactly the culture
	// weight, since cosine goes from 1 to 0.
	if diff := alignedScore - orthogonalScore; math.Abs(diff-w.Culture) > 1e-9 {
		t.Errorf("score gap = %v, want %v", diff, w.Culture)
	}
}

func TestScoreCandidateStaysInRange(t *testing.T) {
	now := time.Now()
	w := DefaultWeights()

	// Negative cosine clamps to zero rather than dragging the score negative.
	query := scoringRecord("q", []float64{1, 0, 0}, now)
	opposite := scoringRecord("c", []float64{-1, 0, 0}, now.Add(-48*time.Hour))

	score, factors, err := scoreCandidate(query, opposite, w, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("scoreCandidate() error: %v", err)
	}
	if score < 0 || score > 1 {
		t.Errorf("score %v outside [0,1]", score)
	}
	for _, f := range factors {
		if f.Value < 0 || f.Value > 1 {
			t.Errorf("factor %s value %v outside [0,1]", f.Factor, f.Value)
		}
	}
}

func TestScoreCandidateDimensionMismatch(t *testing.T) {
	now := time.Now()
	query := scoringRecord("q", []float64{1, 0}, now)
	candidate := scoringRecord("c", []float64{1, 0, 0}, now)

	if _, _, err := scoreCandidate(query, candidate, DefaultWeights(), 24*time.Hour, now); err == nil {
		t.Error("expected an error for mismatched vector dimensions")
	}
}

func TestTimingCompatibility(t *testing.T) {
	now := time.Now()
	bound := 24 * time.Hour

	if got := timingCompatibility(now, now, bound, now); math.Abs(got-1) > 1e-9 {
		t.Errorf("fresh pair timing = %v, want 1", got)
	}
	if got := timingCompatibility(now.Add(-48*time.Hour), now.Add(-48*time.Hour), bound, now); got != 0 {
		t.Errorf("expired pair timing = %v, want 0", got)
	}
	// One fresh, one at half the bound: mean of 1 and 0.5.
	got := timingCompatibility(now, now.Add(-12*time.Hour), bound, now)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("mixed pair timing = %v, want 0.75", got)
	}
}

func TestConfidenceCountsPresentInputs(t *testing.T) {
	now := time.Now()
	full := scoringRecord("a", []float64{1, 0, 0}, now)
	growth := 10.0
	full.Traction.RevenueGrowth = &growth
	full.Traction.UserGrowth = &growth
	fullCandidate := full
	fullCandidate.CompanyID = "b"

	if got := confidence(full, fullCandidate, false, false); got != 1 {
		t.Errorf("all inputs present: confidence = %v, want 1", got)
	}

	sparse := scoringRecord("a", nil, now)
	sparseCandidate := scoringRecord("b", []float64{1, 0, 0}, now)
	// Missing: query vector, both optional signals on both sides. Present:
	// freshness on both sides. 2 of 7.
	if got := confidence(sparse, sparseCandidate, false, false); math.Abs(got-2.0/7.0) > 1e-9 {
		t.Errorf("sparse confidence = %v, want %v", got, 2.0/7.0)
	}

	if full2 := confidence(full, fullCandidate, true, true); full2 >= 1 {
		t.Errorf("stale records must reduce confidence, got %v", full2)
	}
}

func TestWeightsNormalized(t *testing.T) {
	w := Weights{Culture: 2, Traction: 1, Timing: 1}.normalized()
	if math.Abs(w.Culture+w.Traction+w.Timing-1) > 1e-9 {
		t.Errorf("normalized weights sum to %v, want 1", w.Culture+w.Traction+w.Timing)
	}
	if math.Abs(w.Culture-0.5) > 1e-9 {
		t.Errorf("culture weight = %v, want 0.5", w.Culture)
	}

	// Degenerate weights fall back to the defaults.
	d := Weights{}.normalized()
	if d != DefaultWeights() {
		t.Errorf("zero weights normalized to %+v, want defaults", d)
	}
}
