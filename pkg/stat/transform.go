package stat

import "zzstat/pkg/numeric"

// Lookup returns the already-resolved value of a dependency. Transforms only
// see stats the scheduler resolved earlier in topological order.
type Lookup func(id ID) (numeric.Scalar, bool)

// Transform modifies the running value of a stat. Implementations declare
// the stats they read, the phase they run in, the rule they stack under, and
// a priority used to order them inside a (phase, rule) bucket (higher first;
// registration order breaks ties).
type Transform interface {
	Apply(current numeric.Scalar, ctx *Context, look Lookup) numeric.Scalar
	Dependencies() []ID
	Phase() Phase
	StackRule() StackRule
	Priority() int
}

// Bounded is optionally implemented by transforms stacking under RuleMinMax
// to expose their bounds, letting the resolver fold a bucket of clamps into
// clamp(v, max(mins), min(maxes)).
type Bounded interface {
	Bounds() (mn, mx numeric.Scalar, hasMin, hasMax bool)
}

// Conditional is optionally implemented by transforms whose effect can be
// switched off by the context. The resolver consults it where an inactive
// transform must not count as present, such as the override short-circuit.
type Conditional interface {
	Active(ctx *Context) bool
}

// AdditiveTransform adds a flat delta. Defaults: PhaseAdditive, RuleAdditive.
type AdditiveTransform struct {
	delta    numeric.Scalar
	phase    Phase
	priority int
	label    string
}

// NewAdditive returns a transform adding delta.
func NewAdditive(delta numeric.Scalar) *AdditiveTransform {
	return &AdditiveTransform{delta: delta, phase: PhaseAdditive, label: "add"}
}

// InPhase moves the transform to phase p.
func (t *AdditiveTransform) InPhase(p Phase) *AdditiveTransform { t.phase = p; return t }

// WithPriority sets the bucket ordering priority.
func (t *AdditiveTransform) WithPriority(p int) *AdditiveTransform { t.priority = p; return t }

// WithLabel sets the breakdown label.
func (t *AdditiveTransform) WithLabel(l string) *AdditiveTransform { t.label = l; return t }

// Apply implements Transform.
func (t *AdditiveTransform) Apply(current numeric.Scalar, _ *Context, _ Lookup) numeric.Scalar {
	return current.Add(t.delta)
}

// Dependencies implements Transform.
func (t *AdditiveTransform) Dependencies() []ID { return nil }

// Phase implements Transform.
func (t *AdditiveTransform) Phase() Phase { return t.phase }

// StackRule implements Transform.
func (t *AdditiveTransform) StackRule() StackRule { return RuleAdditive }

// Priority implements Transform.
func (t *AdditiveTransform) Priority() int { return t.priority }

// Label implements Labeled.
func (t *AdditiveTransform) Label() string { return t.label }

// MultiplicativeTransform multiplies by a factor. Defaults:
// PhaseMultiplicative, RuleMultiplicative.
type MultiplicativeTransform struct {
	factor   numeric.Scalar
	phase    Phase
	priority int
	label    string
}

// NewMultiplicative returns a transform multiplying by factor.
func NewMultiplicative(factor numeric.Scalar) *MultiplicativeTransform {
	return &MultiplicativeTransform{factor: factor, phase: PhaseMultiplicative, label: "mul"}
}

// InPhase moves the transform to phase p.
func (t *MultiplicativeTransform) InPhase(p Phase) *MultiplicativeTransform { t.phase = p; return t }

// WithPriority sets the bucket ordering priority.
func (t *MultiplicativeTransform) WithPriority(p int) *MultiplicativeTransform {
	t.priority = p
	return t
}

// WithLabel sets the breakdown label.
func (t *MultiplicativeTransform) WithLabel(l string) *MultiplicativeTransform { t.label = l; return t }

// Apply implements Transform.
func (t *MultiplicativeTransform) Apply(current numeric.Scalar, _ *Context, _ Lookup) numeric.Scalar {
	return current.Mul(t.factor)
}

// Dependencies implements Transform.
func (t *MultiplicativeTransform) Dependencies() []ID { return nil }

// Phase implements Transform.
func (t *MultiplicativeTransform) Phase() Phase { return t.phase }

// StackRule implements Transform.
func (t *MultiplicativeTransform) StackRule() StackRule { return RuleMultiplicative }

// Priority implements Transform.
func (t *MultiplicativeTransform) Priority() int { return t.priority }

// Label implements Labeled.
func (t *MultiplicativeTransform) Label() string { return t.label }

// ScalingTransform adds lookup(dep) * factor, deriving one stat from
// another. Defaults: PhaseAdditive, RuleAdditive.
type ScalingTransform struct {
	dep      ID
	factor   numeric.Scalar
	phase    Phase
	priority int
	label    string
}

// NewScaling returns a transform adding dep's resolved value times factor.
func NewScaling(dep ID, factor numeric.Scalar) *ScalingTransform {
	return &ScalingTransform{dep: dep, factor: factor, phase: PhaseAdditive, label: "scale:" + string(dep)}
}

// InPhase moves the transform to phase p.
func (t *ScalingTransform) InPhase(p Phase) *ScalingTransform { t.phase = p; return t }

// WithPriority sets the bucket ordering priority.
func (t *ScalingTransform) WithPriority(p int) *ScalingTransform { t.priority = p; return t }

// WithLabel sets the breakdown label.
func (t *ScalingTransform) WithLabel(l string) *ScalingTransform { t.label = l; return t }

// Apply implements Transform.
func (t *ScalingTransform) Apply(current numeric.Scalar, _ *Context, look Lookup) numeric.Scalar {
	v, ok := look(t.dep)
	if !ok {
		return current
	}
	return current.Add(v.Mul(t.factor))
}

// Dependencies implements Transform.
func (t *ScalingTransform) Dependencies() []ID { return []ID{t.dep} }

// Phase implements Transform.
func (t *ScalingTransform) Phase() Phase { return t.phase }

// StackRule implements Transform.
func (t *ScalingTransform) StackRule() StackRule { return RuleAdditive }

// Priority implements Transform.
func (t *ScalingTransform) Priority() int { return t.priority }

// Label implements Labeled.
func (t *ScalingTransform) Label() string { return t.label }

// ClampTransform constrains the running value between optional bounds.
// Defaults: PhaseFinal, RuleMinMax.
type ClampTransform struct {
	mn, mx         numeric.Scalar
	hasMin, hasMax bool
	phase          Phase
	priority       int
	label          string
}

// NewClamp returns a transform clamping to [mn, mx]. mn greater than mx is
// an invalid configuration.
func NewClamp(mn, mx numeric.Scalar) (*ClampTransform, error) {
	if mn.Cmp(mx) > 0 {
		return nil, &ConfigError{Message: "clamp min exceeds max"}
	}
	return &ClampTransform{mn: mn, mx: mx, hasMin: true, hasMax: true, phase: PhaseFinal, label: "clamp"}, nil
}

// NewClampMin returns a transform enforcing a lower bound only.
func NewClampMin(mn numeric.Scalar) *ClampTransform {
	return &ClampTransform{mn: mn, hasMin: true, phase: PhaseFinal, label: "clamp-min"}
}

// NewClampMax returns a transform enforcing an upper bound only.
func NewClampMax(mx numeric.Scalar) *ClampTransform {
	return &ClampTransform{mx: mx, hasMax: true, phase: PhaseFinal, label: "clamp-max"}
}

// InPhase moves the transform to phase p.
func (t *ClampTransform) InPhase(p Phase) *ClampTransform { t.phase = p; return t }

// WithPriority sets the bucket ordering priority.
func (t *ClampTransform) WithPriority(p int) *ClampTransform { t.priority = p; return t }

// WithLabel sets the breakdown label.
func (t *ClampTransform) WithLabel(l string) *ClampTransform { t.label = l; return t }

// Apply implements Transform.
func (t *ClampTransform) Apply(current numeric.Scalar, _ *Context, _ Lookup) numeric.Scalar {
	if t.hasMin {
		current = numeric.MaxOf(current, t.mn)
	}
	if t.hasMax {
		current = numeric.MinOf(current, t.mx)
	}
	return current
}

// Bounds implements Bounded.
func (t *ClampTransform) Bounds() (mn, mx numeric.Scalar, hasMin, hasMax bool) {
	return t.mn, t.mx, t.hasMin, t.hasMax
}

// Dependencies implements Transform.
func (t *ClampTransform) Dependencies() []ID { return nil }

// Phase implements Transform.
func (t *ClampTransform) Phase() Phase { return t.phase }

// StackRule implements Transform.
func (t *ClampTransform) StackRule() StackRule { return RuleMinMax }

// Priority implements Transform.
func (t *ClampTransform) Priority() int { return t.priority }

// Label implements Labeled.
func (t *ClampTransform) Label() string { return t.label }

// OverrideTransform replaces the running value outright. The phase is chosen
// by the caller; overrides short-circuit the remainder of their phase.
type OverrideTransform struct {
	value    numeric.Scalar
	phase    Phase
	priority int
	label    string
}

// NewOverride returns a transform forcing the value to v in PhaseAdditive;
// use InPhase to place it elsewhere.
func NewOverride(v numeric.Scalar) *OverrideTransform {
	return &OverrideTransform{value: v, phase: PhaseAdditive, label: "override"}
}

// InPhase moves the transform to phase p.
func (t *OverrideTransform) InPhase(p Phase) *OverrideTransform { t.phase = p; return t }

// WithPriority sets the bucket ordering priority.
func (t *OverrideTransform) WithPriority(p int) *OverrideTransform { t.priority = p; return t }

// WithLabel sets the breakdown label.
func (t *OverrideTransform) WithLabel(l string) *OverrideTransform { t.label = l; return t }

// Apply implements Transform.
func (t *OverrideTransform) Apply(numeric.Scalar, *Context, Lookup) numeric.Scalar {
	return t.value
}

// Dependencies implements Transform.
func (t *OverrideTransform) Dependencies() []ID { return nil }

// Phase implements Transform.
func (t *OverrideTransform) Phase() Phase { return t.phase }

// StackRule implements Transform.
func (t *OverrideTransform) StackRule() StackRule { return RuleOverride }

// Priority implements Transform.
func (t *OverrideTransform) Priority() int { return t.priority }

// Label implements Labeled.
func (t *OverrideTransform) Label() string { return t.label }

// DiminishingTransform contributes a fraction under RuleDiminishing: each
// successive contribution in the bucket is scaled by the share of the cap
// still unclaimed. Defaults: PhaseAdditive.
type DiminishingTransform struct {
	fraction numeric.Scalar
	phase    Phase
	priority int
	label    string
}

// NewDiminishing returns a diminishing contribution of the given fraction.
func NewDiminishing(fraction numeric.Scalar) *DiminishingTransform {
	return &DiminishingTransform{fraction: fraction, phase: PhaseAdditive, label: "diminishing"}
}

// InPhase moves the transform to phase p.
func (t *DiminishingTransform) InPhase(p Phase) *DiminishingTransform { t.phase = p; return t }

// WithPriority sets the bucket ordering priority.
func (t *DiminishingTransform) WithPriority(p int) *DiminishingTransform { t.priority = p; return t }

// WithLabel sets the breakdown label.
func (t *DiminishingTransform) WithLabel(l string) *DiminishingTransform { t.label = l; return t }

// Apply implements Transform. Applied to zero it yields the raw fraction,
// which is how the resolver extracts bucket contributions.
func (t *DiminishingTransform) Apply(current numeric.Scalar, _ *Context, _ Lookup) numeric.Scalar {
	return current.Add(t.fraction)
}

// Dependencies implements Transform.
func (t *DiminishingTransform) Dependencies() []ID { return nil }

// Phase implements Transform.
func (t *DiminishingTransform) Phase() Phase { return t.phase }

// StackRule implements Transform.
func (t *DiminishingTransform) StackRule() StackRule { return RuleDiminishing }

// Priority implements Transform.
func (t *DiminishingTransform) Priority() int { return t.priority }

// Label implements Labeled.
func (t *DiminishingTransform) Label() string { return t.label }

// ConditionalTransform delegates to an inner transform when the predicate
// holds and leaves the value untouched otherwise. Phase, rule, priority, and
// dependencies are the inner transform's.
type ConditionalTransform struct {
	when  Predicate
	inner Transform
}

// NewConditional gates inner on pred.
func NewConditional(pred Predicate, inner Transform) *ConditionalTransform {
	return &ConditionalTransform{when: pred, inner: inner}
}

// Apply implements Transform.
func (t *ConditionalTransform) Apply(current numeric.Scalar, ctx *Context, look Lookup) numeric.Scalar {
	if t.Active(ctx) {
		return t.inner.Apply(current, ctx, look)
	}
	return current
}

// Active implements Conditional.
func (t *ConditionalTransform) Active(ctx *Context) bool {
	return t.when != nil && t.when(ctx)
}

// Dependencies implements Transform.
func (t *ConditionalTransform) Dependencies() []ID { return t.inner.Dependencies() }

// Phase implements Transform.
func (t *ConditionalTransform) Phase() Phase { return t.inner.Phase() }

// StackRule implements Transform.
func (t *ConditionalTransform) StackRule() StackRule { return t.inner.StackRule() }

// Priority implements Transform.
func (t *ConditionalTransform) Priority() int { return t.inner.Priority() }

// Label implements Labeled.
func (t *ConditionalTransform) Label() string {
	if l, ok := t.inner.(Labeled); ok {
		return "if:" + l.Label()
	}
	return "conditional"
}
