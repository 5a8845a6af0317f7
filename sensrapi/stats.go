package sensrapi

import "slices"

type Stats struct {
	Min    float32
	Median float32
	Max    float32
}

// IntensityStats returns false for an empty slice. The median of an even-sized slice is
// the mean of the two middle values.
func IntensityStats(values []float32) (Stats, bool) {
	if len(values) == 0 {
		return Stats{}, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return Stats{
		Min:    sorted[0],
		Median: median,
		Max:    sorted[len(sorted)-1],
	}, true
}
