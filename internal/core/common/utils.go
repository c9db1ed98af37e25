package common

import (
	"encoding/json"
	"fmt"
	"math"
)

// ParseJSON cleans and unmarshals a JSON object embedded in an LLM response
// into a type T. Models routinely wrap JSON in markdown fences or prose, so
// the parse is anchored on the outermost '{'...'}' span.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	start := -1
	end := -1
	for i, c := range response {
		if c == '{' {
			start = i
			break
		}
	}
	for i := len(response) - 1; i >= 0; i-- {
		if response[i] == '}' {
			end = i + 1
			break
		}
	}

	if start == -1 || end == -1 || start >= end {
		return zero, fmt.Errorf("no JSON object found in response")
	}

	var result T
	if err := json.Unmarshal([]byte(response[start:end]), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, response[start:end])
	}
	return result, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or has zero norm. Mismatched lengths compare the shared prefix.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Excerpt truncates s for audit rows and log fields.
func Excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
