package service

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// FormatValue renders a chart value for the wire. nil stays nil so gaps
// before the first observation serialize as JSON null.
func FormatValue(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return FormatFloat(v.InexactFloat64())
}

// FormatFloat applies the chart display policy: magnitudes of at least 0.1
// round to one decimal place, zero stays 0.0, and everything smaller is
// rendered in scientific notation with four significant digits so dust
// prices do not collapse to 0.0.
func FormatFloat(v float64) any {
	if v == 0 {
		return 0.0
	}
	if math.Abs(v) >= 0.1 {
		return math.Round(v*10) / 10
	}
	return strconv.FormatFloat(v, 'e', 3, 64)
}
