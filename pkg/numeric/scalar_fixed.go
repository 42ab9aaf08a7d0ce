//go:build statfixed

package numeric

// Scalar is the engine-wide scalar type. This build binds it to the
// deterministic fixed-point backend.
type Scalar = Fixed

// FromInt converts an integer to the selected scalar backend.
func FromInt(i int64) Scalar { return FixedFromInt(i) }

// FromRat converts a rational num/den to the selected scalar backend.
func FromRat(num, den int64) Scalar { return FixedFromRat(num, den) }

// FromFloat64 converts a float64 to the selected scalar backend.
func FromFloat64(v float64) Scalar { return FixedFromFloat64(v) }

// Zero returns the additive identity.
func Zero() Scalar { return 0 }

// One returns the multiplicative identity.
func One() Scalar { return FixedFromInt(1) }
