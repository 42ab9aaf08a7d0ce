package numeric

import (
	"math"
	"testing"
)

func TestFixedFromInt(t *testing.T) {
	if got := FixedFromInt(5); got != Fixed(5<<16) {
		t.Errorf("FixedFromInt(5) = %d, want %d", got, 5<<16)
	}
	if got := FixedFromInt(-5); got != Fixed(-5<<16) {
		t.Errorf("FixedFromInt(-5) = %d, want %d", got, -5<<16)
	}
	if got := FixedFromInt(math.MaxInt64); got != FixedMax {
		t.Errorf("FixedFromInt(MaxInt64) = %d, want saturation", got)
	}
	if got := FixedFromInt(math.MinInt64); got != FixedMin {
		t.Errorf("FixedFromInt(MinInt64) = %d, want saturation", got)
	}
}

func TestFixedFromRat(t *testing.T) {
	tests := []struct {
		name     string
		num, den int64
		want     Fixed
	}{
		{"half", 1, 2, Fixed(1 << 15)},
		{"third rounds down", 1, 3, Fixed(21845)},
		{"negative", -3, 2, Fixed(-3 << 15)},
		{"half tick rounds away", 1, 131072, Fixed(1)},
		{"zero denominator saturates", 1, 0, FixedMax},
		{"zero over zero", 0, 0, Fixed(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FixedFromRat(tt.num, tt.den); got != tt.want {
				t.Errorf("FixedFromRat(%d, %d) = %d, want %d", tt.num, tt.den, got, tt.want)
			}
		})
	}
}

func TestFixedFromFloat64(t *testing.T) {
	if got := FixedFromFloat64(2.25); got != Fixed(2.25*65536) {
		t.Errorf("FixedFromFloat64(2.25) = %d", got)
	}
	if got := FixedFromFloat64(math.NaN()); got != 0 {
		t.Errorf("FixedFromFloat64(NaN) = %d, want 0", got)
	}
	if got := FixedFromFloat64(1e30); got != FixedMax {
		t.Errorf("FixedFromFloat64(1e30) = %d, want saturation", got)
	}
	if got := FixedFromFloat64(-1e30); got != FixedMin {
		t.Errorf("FixedFromFloat64(-1e30) = %d, want saturation", got)
	}
}

func TestFixedArithmetic(t *testing.T) {
	a := FixedFromFloat64(1.5)
	b := FixedFromInt(2)

	if got := a.Add(b); got != FixedFromFloat64(3.5) {
		t.Errorf("Add = %v", got)
	}
	if got := b.Sub(a); got != FixedFromFloat64(0.5) {
		t.Errorf("Sub = %v", got)
	}
	if got := a.Mul(b); got != FixedFromInt(3) {
		t.Errorf("Mul = %v", got)
	}
	if got := FixedFromInt(3).Div(b); got != a {
		t.Errorf("Div = %v", got)
	}
	if got := FixedFromInt(-5).Mul(FixedFromInt(3)); got != FixedFromInt(-15) {
		t.Errorf("negative Mul = %v", got)
	}
}

func TestFixedDivisionRounding(t *testing.T) {
	// 1/3 by division must match 1/3 by rational construction exactly.
	if got, want := FixedFromInt(1).Div(FixedFromInt(3)), FixedFromRat(1, 3); got != want {
		t.Errorf("Div rounding = %d, want %d", got, want)
	}
}

func TestFixedSaturation(t *testing.T) {
	one := FixedFromInt(1)
	if got := FixedMax.Add(one); got != FixedMax {
		t.Errorf("max+1 = %d, want rail", got)
	}
	if got := FixedMin.Sub(one); got != FixedMin {
		t.Errorf("min-1 = %d, want rail", got)
	}
	big := FixedFromInt(1 << 40)
	if got := big.Mul(big); got != FixedMax {
		t.Errorf("big*big = %d, want rail", got)
	}
	if got := big.Mul(big.Mul(FixedFromInt(-1))); got != FixedMin {
		t.Errorf("big*-big = %d, want negative rail", got)
	}
	if got := one.Div(Fixed(0)); got != FixedMax {
		t.Errorf("1/0 = %d, want rail", got)
	}
	if !FixedMax.Saturated() || !FixedMin.Saturated() {
		t.Error("rails not reported saturated")
	}
	if one.Saturated() {
		t.Error("one reported saturated")
	}
}

func TestFixedDeterminism(t *testing.T) {
	// The same operation sequence must produce the same bits, every time.
	run := func() Fixed {
		v := FixedFromRat(7, 3)
		for i := int64(1); i <= 50; i++ {
			v = v.Mul(FixedFromRat(i+1, i)).Add(FixedFromRat(1, i))
		}
		return v
	}
	first := run()
	for i := 0; i < 10; i++ {
		if got := run(); got != first {
			t.Fatalf("run %d produced %d, first run produced %d", i, got, first)
		}
	}
}

func TestFixedString(t *testing.T) {
	tests := []struct {
		v    Fixed
		want string
	}{
		{FixedFromInt(1), "1.00000"},
		{FixedFromFloat64(1.5), "1.50000"},
		{FixedFromInt(-1), "-1.00000"},
		{Fixed(0), "0.00000"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestFixedFloat64RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1, -1, 2.25, -0.5, 1000.125} {
		if got := FixedFromFloat64(v).Float64(); got != v {
			t.Errorf("round trip %v = %v", v, got)
		}
	}
}
