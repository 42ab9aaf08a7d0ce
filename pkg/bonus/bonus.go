// Package bonus provides the gameplay-level bonus descriptors. A Bonus is a
// declarative value built with a small fluent API; Compile lowers it to a
// concrete transform once, and ApplyCompiled registers the compiled forms
// without ever looking back at the descriptor. Gameplay code ships
// descriptors around; only the compilation step knows their structure.
package bonus

import (
	"zzstat/pkg/numeric"
	"zzstat/pkg/stat"
)

// Kind discriminates the bonus variants.
type Kind int

const (
	// KindFlat adds a flat amount.
	KindFlat Kind = iota
	// KindPercent multiplies by 1 + rate.
	KindPercent
	// KindOverride forces the value.
	KindOverride
	// KindClampMin enforces a lower bound.
	KindClampMin
	// KindClampMax enforces an upper bound.
	KindClampMax
	// KindClamp enforces both bounds.
	KindClamp
	// KindScaling adds another stat's value times a factor.
	KindScaling
	// KindDiminishing contributes a diminishing fraction.
	KindDiminishing
)

// Bonus is a declarative gameplay bonus. Build one with the package
// constructors and chain the option methods; pass it to Compile to obtain
// the transform it stands for.
type Bonus struct {
	kind     Kind
	stat     stat.ID
	amount   numeric.Scalar
	upper    numeric.Scalar
	dep      stat.ID
	phase    stat.Phase
	phaseSet bool
	priority int
	label    string
}

// Add starts a flat bonus on the target stat; set the amount with Flat.
func Add(target stat.ID) *Bonus {
	return &Bonus{kind: KindFlat, stat: target}
}

// Flat sets the amount added.
func (b *Bonus) Flat(n numeric.Scalar) *Bonus {
	b.amount = n
	return b
}

// Mul starts a percentage bonus on the target stat; set the rate with
// Percent.
func Mul(target stat.ID) *Bonus {
	return &Bonus{kind: KindPercent, stat: target}
}

// Percent sets the rate; the compiled transform multiplies by 1 + rate.
func (b *Bonus) Percent(rate numeric.Scalar) *Bonus {
	b.amount = rate
	return b
}

// Override forces the target stat to v within the chosen phase.
func Override(target stat.ID, v numeric.Scalar) *Bonus {
	return &Bonus{kind: KindOverride, stat: target, amount: v}
}

// ClampMin bounds the target stat from below.
func ClampMin(target stat.ID, v numeric.Scalar) *Bonus {
	return &Bonus{kind: KindClampMin, stat: target, amount: v}
}

// ClampMax bounds the target stat from above.
func ClampMax(target stat.ID, v numeric.Scalar) *Bonus {
	return &Bonus{kind: KindClampMax, stat: target, amount: v}
}

// Clamp bounds the target stat on both sides.
func Clamp(target stat.ID, mn, mx numeric.Scalar) *Bonus {
	return &Bonus{kind: KindClamp, stat: target, amount: mn, upper: mx}
}

// Scaling adds dep's resolved value times factor to the target stat.
func Scaling(target, dep stat.ID, factor numeric.Scalar) *Bonus {
	return &Bonus{kind: KindScaling, stat: target, dep: dep, amount: factor}
}

// Diminishing contributes a fraction under the diminishing stack rule.
func Diminishing(target stat.ID, fraction numeric.Scalar) *Bonus {
	return &Bonus{kind: KindDiminishing, stat: target, amount: fraction}
}

// InPhase places the compiled transform in phase p instead of the kind's
// default.
func (b *Bonus) InPhase(p stat.Phase) *Bonus {
	b.phase = p
	b.phaseSet = true
	return b
}

// WithPriority sets the bucket ordering priority.
func (b *Bonus) WithPriority(p int) *Bonus {
	b.priority = p
	return b
}

// WithLabel names the bonus in resolution breakdowns.
func (b *Bonus) WithLabel(l string) *Bonus {
	b.label = l
	return b
}

// Kind returns the variant tag.
func (b *Bonus) Kind() Kind { return b.kind }

// Stat returns the target stat.
func (b *Bonus) Stat() stat.ID { return b.stat }
