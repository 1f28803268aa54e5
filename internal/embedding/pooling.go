package embedding

import "math"

// meanPool averages the token states of a [tokens, dimensions] row-major
// matrix over positions where mask is 1.
func meanPool(hidden []float32, mask []int64, dimensions int) []float32 {
	out := make([]float32, dimensions)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dimensions : (t+1)*dimensions]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

// Normalize scales vec in place to unit length. A zero vector is left as is.
func Normalize(vec []float32) {
	var sq float64
	for _, v := range vec {
		sq += float64(v) * float64(v)
	}
	if sq == 0 {
		return
	}
	inv := 1 / math.Sqrt(sq)
	for i, v := range vec {
		vec[i] = float32(float64(v) * inv)
	}
}
