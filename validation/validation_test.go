package validation

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestViolations_Err(t *testing.T) {
	v := Violations{}
	if v.Err() != nil {
		t.Fatal("empty violations should not be an error")
	}
	Required("name", "  ", v)
	PositiveDecimal("totalAmount", decimal.Zero, v)
	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	var got Violations
	if !errors.As(err, &got) || got.HTTPStatus() != http.StatusBadRequest {
		t.Fatalf("expected Violations with 400, got %v", err)
	}
	if err.Error() != "validation failed: name: required, totalAmount: must_be_positive" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDecimalValidators(t *testing.T) {
	v := Violations{}
	NonNegativeDecimal("a", decimal.NewFromInt(-1), v)
	NonNegativeDecimal("b", decimal.Zero, v)
	MaxScale("c", decimal.RequireFromString("10.505"), 2, v)
	MaxScale("d", decimal.RequireFromString("10.50"), 2, v)

	if v["a"] != "out_of_range" {
		t.Errorf("a = %q", v["a"])
	}
	if _, ok := v["b"]; ok {
		t.Error("zero should be non-negative")
	}
	if v["c"] != "invalid_format" {
		t.Errorf("c = %q", v["c"])
	}
	if _, ok := v["d"]; ok {
		t.Error("two decimals should be accepted")
	}
}

func TestPeriod(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v := Violations{}
	Period("ok", start, start.AddDate(1, 0, 0), v)
	Period("reversed", start, start, v)
	Period("missing", time.Time{}, start, v)
	if _, ok := v["ok"]; ok {
		t.Error("valid period flagged")
	}
	if v["reversed"] != "invalid_period" || v["missing"] != "required" {
		t.Errorf("unexpected violations %v", v)
	}
}
