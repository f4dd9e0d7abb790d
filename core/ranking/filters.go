package ranking

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/synapselabs/partnermatch/core"
)

// Filters narrows the candidate pool before scoring. Typed minimums cover
// the common business filters; Expression accepts an arbitrary CEL predicate
// over the candidate's feature fields for everything else, e.g.
//
//	candidate.funding_amount > 1000000.0 && candidate.market_sentiment >= 0.0
type Filters struct {
	MinFunding    *float64 `json:"min_funding,omitempty"`
	MinEmployees  *int     `json:"min_employees,omitempty"`
	MinGrowthRate *float64 `json:"min_growth_rate,omitempty"`
	MinSentiment  *float64 `json:"min_sentiment,omitempty"`
	Expression    string   `json:"expression,omitempty"`
}

var (
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

// filterEnv returns the shared CEL environment. The environment is immutable
// and safe for concurrent program construction.
func filterEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("candidate", cel.DynType),
		)
	})
	return celEnv, celEnvErr
}

// candidateFilter is a compiled filter ready to match candidates.
type candidateFilter struct {
	filters Filters
	program cel.Program
}

// compileFilters validates the filter set and compiles the CEL expression
// once per request. A malformed expression is a client error.
func compileFilters(f *Filters) (*candidateFilter, error) {
	if f == nil {
		return nil, nil
	}
	cf := &candidateFilter{filters: *f}
	if f.Expression == "" {
		return cf, nil
	}

	env, err := filterEnv()
	if err != nil {
		return nil, fmt.Errorf("filter environment: %w", err)
	}
	ast, issues := env.Compile(f.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: filter expression: %v", core.ErrInvalidRecord, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: filter expression: %v", core.ErrInvalidRecord, err)
	}
	cf.program = prg
	return cf, nil
}

// Match reports whether a candidate passes all filters.
func (cf *candidateFilter) Match(rec core.FeatureRecord) (bool, error) {
	if cf == nil {
		return true, nil
	}
	f := cf.filters
	if f.MinFunding != nil && rec.Traction.FundingAmount < *f.MinFunding {
		return false, nil
	}
	if f.MinEmployees != nil && rec.Traction.EmployeeCount < *f.MinEmployees {
		return false, nil
	}
	if f.MinGrowthRate != nil && rec.Traction.GrowthRate < *f.MinGrowthRate {
		return false, nil
	}
	if f.MinSentiment != nil && rec.Traction.MarketSentiment < *f.MinSentiment {
		return false, nil
	}
	if cf.program == nil {
		return true, nil
	}

	out, _, err := cf.program.Eval(map[string]any{
		"candidate": candidateVars(rec),
	})
	if err != nil {
		return false, fmt.Errorf("%w: filter evaluation: %v", core.ErrInvalidRecord, err)
	}
	pass, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: filter expression must evaluate to bool, got %T", core.ErrInvalidRecord, out.Value())
	}
	return pass, nil
}

// candidateVars exposes the fields a filter expression may reference.
func candidateVars(rec core.FeatureRecord) map[string]any {
	vars := map[string]any{
		"company_id":         rec.CompanyID,
		"user_overlap_score": rec.UserOverlapScore,
		"funding_amount":     rec.Traction.FundingAmount,
		"employee_count":     rec.Traction.EmployeeCount,
		"growth_rate":        rec.Traction.GrowthRate,
		"market_sentiment":   rec.Traction.MarketSentiment,
	}
	if rec.Traction.RevenueGrowth != nil {
		vars["revenue_growth"] = *rec.Traction.RevenueGrowth
	}
	if rec.Traction.UserGrowth != nil {
		vars["user_growth"] = *rec.Traction.UserGrowth
	}
	return vars
}
