package vote

import (
	"math"
	"sort"
)

// InsufficientData is the wire marker used in place of a statistic that
// cannot be computed from the numeric votes at hand.
const InsufficientData = "not enough votes"

// Statistics aggregates one task's votes. Mean, Median and StdDev are nil
// when too few numeric votes exist to define them: mean and median need at
// least one, sample standard deviation needs at least two.
type Statistics struct {
	TotalVoteCount int
	UndecidedCount int
	Mean           *float64
	Median         *float64
	StdDev         *float64
}

// Field is one named statistic in wire order.
type Field struct {
	Name  string
	Value any
}

// Compute aggregates the given vote values. Values at or above UnsureValue
// are excluded from the numeric statistics and counted as undecided.
// Numeric results are rounded half-to-even to 3 decimal places.
func Compute(values []int) Statistics {
	numeric := make([]float64, 0, len(values))
	for _, value := range values {
		if IsNumeric(value) {
			numeric = append(numeric, float64(value))
		}
	}

	stats := Statistics{
		TotalVoteCount: len(values),
		UndecidedCount: len(values) - len(numeric),
	}
	if len(numeric) == 0 {
		return stats
	}

	stats.Mean = round3(mean(numeric))
	stats.Median = round3(median(numeric))
	if len(numeric) >= 2 {
		stats.StdDev = round3(sampleStdDev(numeric))
	}
	return stats
}

// Fields returns the statistics in the order they appear on the wire and in
// the published summary table. Undefined statistics carry InsufficientData.
func (s Statistics) Fields() []Field {
	return []Field{
		{Name: "total_vote_count", Value: s.TotalVoteCount},
		{Name: "undecided_count", Value: s.UndecidedCount},
		{Name: "mean", Value: orMarker(s.Mean)},
		{Name: "median", Value: orMarker(s.Median)},
		{Name: "std_dev", Value: orMarker(s.StdDev)},
	}
}

func orMarker(value *float64) any {
	if value == nil {
		return InsufficientData
	}
	return *value
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func sampleStdDev(values []float64) float64 {
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// round3 rounds half-to-even to 3 decimal places.
func round3(value float64) *float64 {
	rounded := math.RoundToEven(value*1000) / 1000
	return &rounded
}
