package logits

import (
	"cmp"
	"math"
	"slices"
)

// Softmax returns a new probability vector for logits.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	softmaxInto(out, logits)
	return out
}

// softmaxInto writes softmax(logits) to dst using max subtraction. When no
// logit is finite from above the output is all zero.
func softmaxInto(dst, logits []float64) {
	maxv := math.Inf(-1)
	for _, v := range logits {
		if v > maxv {
			maxv = v
		}
	}
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		clear(dst)
		return
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - maxv)
		dst[i] = e
		sum += e
	}
	inv := 1 / sum
	for i := range dst {
		dst[i] *= inv
	}
}

// Renormalize scales p in place to sum to 1. It reports false, leaving p
// untouched, when the mass is zero or not finite.
func Renormalize(p []float64) bool {
	var sum float64
	for _, v := range p {
		sum += v
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		return false
	}
	inv := 1 / sum
	for i := range p {
		p[i] *= inv
	}
	return true
}

// Argmax returns the index of the largest value, preferring the lowest
// index on ties. It panics on an empty slice.
func Argmax(x []float64) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// rank returns indices of p ordered by descending probability, lower
// index first among equals.
func rank(p []float64) []int {
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Compare(p[b], p[a])
	})
	return idx
}

// TopK zeroes all but the k most probable entries of p and renormalizes
// over the kept mass. k <= 0 or k >= len(p) leaves p unchanged.
func TopK(p []float64, k int) {
	if k <= 0 || k >= len(p) {
		return
	}
	for _, i := range rank(p)[k:] {
		p[i] = 0
	}
	Renormalize(p)
}

// TopP keeps the smallest descending prefix of p whose cumulative mass
// stays within top, always including the most probable entry, then
// renormalizes. top >= 1 leaves p unchanged.
func TopP(p []float64, top float64) {
	if top >= 1 || len(p) == 0 {
		return
	}
	order := rank(p)
	var c float64
	keep := 1
	for n, i := range order {
		c += p[i]
		if c > top {
			break
		}
		keep = n + 1
	}
	for _, i := range order[keep:] {
		p[i] = 0
	}
	Renormalize(p)
}
