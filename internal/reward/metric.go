// Package reward scores experiment outputs.
package reward

import (
	"math"
	"reflect"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/npy"
)

// Evaluate computes the scalar score for a metric against a result value.
// The result may be a loaded image array or a plain numeric; anything the
// metric cannot interpret scores 0.0, as does an unknown metric type.
func Evaluate(metric domain.RewardMetric, result any) float64 {
	switch metric.MetricType {
	case "image_entropy":
		if arr, ok := result.(*npy.Array); ok {
			return imageEntropy(arr)
		}
		return 0.0
	case "value_match":
		target, ok := metric.Params["target_value"]
		if !ok {
			return 0.0
		}
		if valuesEqual(result, target) {
			return 1.0
		}
		return 0.0
	default:
		return 0.0
	}
}

// imageEntropy is the Shannon entropy (base 2) of the pixel intensity
// histogram: 256 bins over the fixed range [0, 256]. Out-of-range pixels
// fall into no bin but still count toward the probability denominator,
// matching numpy's histogram-over-size convention.
func imageEntropy(a *npy.Array) float64 {
	total := len(a.Data)
	if total == 0 {
		return 0.0
	}

	var hist [256]int
	for _, v := range a.Data {
		if math.IsNaN(v) || v < 0 || v > 256 {
			continue
		}
		idx := int(v)
		if idx > 255 {
			idx = 255
		}
		hist[idx]++
	}

	var h float64
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// valuesEqual compares a result against a target the way a dynamically
// typed caller would expect: numeric kinds compare by value (5 equals 5.0),
// everything else requires exact equality. A string never equals a number.
func valuesEqual(a, b any) bool {
	af, aok := Numeric(a)
	bf, bok := Numeric(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Numeric reports whether v is a numeric kind and returns it as float64.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
