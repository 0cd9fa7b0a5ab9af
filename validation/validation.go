// Package validation collects field violations for request payloads.
package validation

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Violations maps a field name to a violation code ("required", "out_of_range").
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Err returns v as an error, or nil when there is nothing to report.
func (v Violations) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

// Error lists the violations in field order.
func (v Violations) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f + ": " + v[f]
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (v Violations) HTTPStatus() int   { return http.StatusBadRequest }
func (v Violations) Code() string      { return "validation_failed" }
func (v Violations) ErrorDetails() any { return map[string]string(v) }

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

func PositiveFloat(field string, val float64, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

func RangeFloat(field string, val, minVal, maxVal float64, v Violations) {
	if val < minVal || val > maxVal {
		v[field] = "out_of_range"
	}
}

// PositiveDecimal requires val > 0.
func PositiveDecimal(field string, val decimal.Decimal, v Violations) {
	if !val.IsPositive() {
		v[field] = "must_be_positive"
	}
}

// NonNegativeDecimal requires val >= 0.
func NonNegativeDecimal(field string, val decimal.Decimal, v Violations) {
	if val.IsNegative() {
		v[field] = "out_of_range"
	}
}

// MaxScale rejects amounts with more than places decimal digits (cents).
func MaxScale(field string, val decimal.Decimal, places int32, v Violations) {
	if !val.Equal(val.Truncate(places)) {
		v[field] = "invalid_format"
	}
}

// Period requires both bounds and start strictly before end.
func Period(field string, start, end time.Time, v Violations) {
	if start.IsZero() || end.IsZero() {
		v[field] = "required"
		return
	}
	if !start.Before(end) {
		v[field] = "invalid_period"
	}
}
