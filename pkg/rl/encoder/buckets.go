package encoder

import (
	"encoding/json"
	"math"
)

// Bucket thresholds are fixed so that semantically identical contexts
// always land in the same bucket regardless of numeric noise.
// Out-of-range values clamp to the nearest bucket; missing fields take
// the default bucket.

type bucketSpec struct {
	// upper bound (inclusive) per bucket; the last label catches everything above
	bounds []float64
	labels []string
	// defaultLabel is used when the feature is absent from the context
	defaultLabel string
}

func (b bucketSpec) bucket(v float64) string {
	if math.IsNaN(v) {
		return b.defaultLabel
	}
	for i, bound := range b.bounds {
		if v <= bound {
			return b.labels[i]
		}
	}
	return b.labels[len(b.labels)-1]
}

// Common bucketed features shared by all agent types.
var commonBuckets = map[string]bucketSpec{
	"complexity": {
		bounds:       []float64{3, 6, 8},
		labels:       []string{"low", "medium", "high", "very_high"},
		defaultLabel: "medium",
	},
	"size": {
		bounds:       []float64{100, 500, 2000},
		labels:       []string{"small", "medium", "large", "very_large"},
		defaultLabel: "medium",
	},
	"coverage": {
		bounds:       []float64{0.4, 0.7, 0.95},
		labels:       []string{"low", "medium", "high", "full"},
		defaultLabel: "low",
	},
	"error_rate": {
		bounds:       []float64{0.01, 0.1, 0.3},
		labels:       []string{"rare", "occasional", "frequent", "pervasive"},
		defaultLabel: "rare",
	},
}

// genericNumeric buckets numeric features that have no dedicated spec.
var genericNumeric = bucketSpec{
	bounds:       []float64{10, 100, 1000},
	labels:       []string{"low", "medium", "high", "very_high"},
	defaultLabel: "low",
}

// asFloat coerces the numeric types that appear in task contexts.
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
