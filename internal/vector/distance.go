package vector

import (
	"fmt"
	"math"
)

// Metric is the distance function of a store. It is fixed at construction.
type Metric string

const (
	// MetricEuclidean is the L2 distance.
	MetricEuclidean Metric = "euclidean"
	// MetricAngular is sqrt(2-2cos(a,b)), the distance between the normalized vectors.
	MetricAngular Metric = "angular"
)

// ParseMetric maps a config value to a Metric; empty selects Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricEuclidean, "", "l2":
		return MetricEuclidean, nil
	case MetricAngular, "cosine":
		return MetricAngular, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: euclidean, angular)", s)
	}
}

type distanceFunc func(a, b []float32) float64

func (m Metric) distanceFunc() distanceFunc {
	if m == MetricAngular {
		return AngularDistance
	}
	return EuclideanDistance
}

func (m Metric) code() uint32 {
	if m == MetricAngular {
		return 1
	}
	return 0
}

func metricFromCode(c uint32) (Metric, error) {
	switch c {
	case 0:
		return MetricEuclidean, nil
	case 1:
		return MetricAngular, nil
	default:
		return "", fmt.Errorf("unknown metric code %d", c)
	}
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// AngularDistance returns sqrt(2-2cos(a,b)). Zero vectors are at distance sqrt(2) from everything.
func AngularDistance(a, b []float32) float64 {
	dot := InnerProduct(a, b)
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return math.Sqrt2
	}
	cos := dot / (na * nb)
	d := 2 - 2*cos
	if d < 0 {
		return 0
	}
	return math.Sqrt(d)
}

// InnerProduct returns the inner product of two vectors of equal length.
func InnerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	return math.Sqrt(InnerProduct(x, x))
}
