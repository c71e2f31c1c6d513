package domain

// ChartFields is the fixed order of the emitted chart series.
var ChartFields = [5]string{"open", "close", "high", "low", "priceUSD"}

// ChartPoint is one [timestamp, field, value] triple. The timestamp is an
// ISO string, the value is a rounded float64, a scientific-notation string
// for very small magnitudes, or nil for a bucket with no data and no
// predecessor to carry from.
type ChartPoint [3]any

// ChartSeries holds five parallel sequences in ChartFields order, one entry
// per grid bucket each.
type ChartSeries [5][]ChartPoint
