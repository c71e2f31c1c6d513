package service

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatFloat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float64
		want any
	}{
		{"zero", 0, 0.0},
		{"rounds to one decimal", 1.234, 1.2},
		{"rounds up", 1.25, 1.3},
		{"negative rounds", -0.56, -0.6},
		{"boundary stays numeric", 0.1, 0.1},
		{"large value", 64231.887, 64231.9},
		{"small value goes scientific", 0.05432, "5.432e-02"},
		{"tiny value", 0.0000071234, "7.123e-06"},
		{"negative small value", -0.004, "-4.000e-03"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatFloat(tc.in); got != tc.want {
				t.Fatalf("FormatFloat(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestFormatValueNil(t *testing.T) {
	t.Parallel()

	if got := FormatValue(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestFormatValueDecimal(t *testing.T) {
	t.Parallel()

	v := decimal.RequireFromString("0.05432")
	if got := FormatValue(&v); got != "5.432e-02" {
		t.Fatalf("expected scientific string, got %v", got)
	}

	v = decimal.RequireFromString("42.19")
	if got := FormatValue(&v); got != 42.2 {
		t.Fatalf("expected 42.2, got %v", got)
	}
}
