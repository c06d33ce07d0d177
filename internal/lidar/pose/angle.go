package pose

import "math"

// WrapToPm wraps x into the symmetric half-open range (−max, max].
// It is used both for radians (max = π) and for bounded scalar
// quantities such as headings in degrees. max must be positive.
func WrapToPm(x, max float64) float64 {
	span := 2 * max
	r := math.Mod(x+max, span) // (−span, span)
	if r <= 0 {
		r += span
	}
	return r - max
}

// WrapToPmPi wraps an angle in radians into (−π, π].
func WrapToPmPi(rad float64) float64 {
	return WrapToPm(rad, math.Pi)
}

// AngleDiff returns the signed shortest-path delta lhs−rhs in (−π, π].
// It is insensitive to which representation of either angle is passed:
// AngleDiff(a+2π, b) == AngleDiff(a, b).
func AngleDiff(lhs, rhs float64) float64 {
	return WrapToPmPi(WrapToPmPi(lhs) - WrapToPmPi(rhs))
}
