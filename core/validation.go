package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ValidateViewName checks if a feature view name is usable as a storage key.
func ValidateViewName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: view name cannot be empty", ErrInvalidRecord)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: view name cannot contain path separators", ErrInvalidRecord)
	}
	// Colons and NUL bytes are storage key separators; a view name carrying
	// one would collide with another view's key space.
	if strings.ContainsAny(name, ":\x00") {
		return fmt.Errorf("%w: view name cannot contain ':' or NUL", ErrInvalidRecord)
	}
	return nil
}

// ValidateRecord checks a feature record against its view's declared
// dimensionality and the documented field ranges.
func ValidateRecord(rec FeatureRecord, dimension int) error {
	if rec.CompanyID == "" {
		return fmt.Errorf("%w: company_id cannot be empty", ErrInvalidRecord)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp cannot be zero", ErrInvalidRecord)
	}
	if rec.UserOverlapScore < 0 || rec.UserOverlapScore > 1 {
		return fmt.Errorf("%w: user_overlap_score %g outside [0,1]", ErrInvalidRecord, rec.UserOverlapScore)
	}
	if err := validateTraction(rec.Traction); err != nil {
		return err
	}
	// An absent culture vector is legal (online-only records may predate
	// their embedding); a present one must match the view's declared length.
	if len(rec.CultureVector) != 0 && len(rec.CultureVector) != dimension {
		return fmt.Errorf("%w: culture_vector length %d, view declares %d",
			ErrDimensionMismatch, len(rec.CultureVector), dimension)
	}
	for i, v := range rec.CultureVector {
		if math.IsNaN(v) {
			return fmt.Errorf("%w: culture_vector contains NaN at index %d", ErrInvalidRecord, i)
		}
		if math.IsInf(v, 0) {
			return fmt.Errorf("%w: culture_vector contains infinite value at index %d", ErrInvalidRecord, i)
		}
	}
	return nil
}

func validateTraction(t TractionMetrics) error {
	if t.FundingAmount < 0 {
		return fmt.Errorf("%w: funding_amount cannot be negative", ErrInvalidRecord)
	}
	if t.EmployeeCount < 0 {
		return fmt.Errorf("%w: employee_count cannot be negative", ErrInvalidRecord)
	}
	if t.MarketSentiment < -1 || t.MarketSentiment > 1 {
		return fmt.Errorf("%w: market_sentiment %g outside [-1,1]", ErrInvalidRecord, t.MarketSentiment)
	}
	return nil
}

// ValidateTimeRange checks the bounds of a historical query.
func ValidateTimeRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end must be set", ErrInvalidTimeRange)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidTimeRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}
