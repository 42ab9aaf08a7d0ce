// Package numeric provides the scalar arithmetic backends for the stat
// engine. Two backends exist: Float wraps a native float64, and Fixed is a
// signed 64-bit fixed-point value with 16 fractional bits that saturates on
// overflow and produces bit-identical results across platforms.
//
// The engine-wide Scalar alias is selected at compile time: the default build
// uses Float, and building with -tags statfixed switches to Fixed. Both
// concrete types always compile and can be used directly.
package numeric

// MinOf returns the smaller of a and b.
func MinOf(a, b Scalar) Scalar {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// MaxOf returns the larger of a and b.
func MaxOf(a, b Scalar) Scalar {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
