// Package floatutils provides utilities for working with floats
package floatutils

import "math"

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// MaxSlice gets the maximum value and indices of the maximum values
// in a slice of float64. The indices are in increasing order, so
// indices[0] is the lowest index at which the maximum occurs.
func MaxSlice(values []float64) (max float64, indices []int) {
	max, indices = values[0], []int{0}

	for i, value := range values[1:] {
		if value > max {
			max = value
			indices = []int{i + 1}
		} else if value == max {
			indices = append(indices, i+1)
		}
	}
	return
}

// LogSumExp computes the log of the summed exponentials of values in
// a numerically stable way
func LogSumExp(values []float64) float64 {
	max := Max(values...)

	var sum float64
	for _, value := range values {
		sum += math.Exp(value - max)
	}
	return max + math.Log(sum)
}

// Softmax computes the softmax distribution of a slice of logits
func Softmax(logits []float64) []float64 {
	logZ := LogSumExp(logits)

	probs := make([]float64, len(logits))
	for i, logit := range logits {
		probs[i] = math.Exp(logit - logZ)
	}
	return probs
}

// Min calculates and returns the minimum float64 in a list
func Min(floats ...float64) float64 {
	min := floats[0]
	for _, val := range floats {
		if val < min {
			min = val
		}
	}
	return min
}

// Max calculates and returns the maximum float64 in a list
func Max(floats ...float64) float64 {
	max := floats[0]
	for _, val := range floats {
		if val > max {
			max = val
		}
	}
	return max
}
