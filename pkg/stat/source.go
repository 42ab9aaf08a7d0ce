package stat

import "zzstat/pkg/numeric"

// Source produces a base contribution for a stat. All sources registered for
// a stat are summed; sources never depend on other stats.
type Source interface {
	Produce(ctx *Context) numeric.Scalar
}

// Labeled is optionally implemented by sources and transforms to name
// themselves in resolution breakdowns.
type Labeled interface {
	Label() string
}

// Predicate gates conditional sources and transforms on context facts.
type Predicate func(ctx *Context) bool

// ConstantSource produces a fixed value unconditionally.
type ConstantSource struct {
	value numeric.Scalar
	label string
}

// NewConstant returns a source producing v.
func NewConstant(v numeric.Scalar) *ConstantSource {
	return &ConstantSource{value: v, label: "constant"}
}

// WithLabel overrides the breakdown label.
func (s *ConstantSource) WithLabel(label string) *ConstantSource {
	s.label = label
	return s
}

// Produce implements Source.
func (s *ConstantSource) Produce(*Context) numeric.Scalar { return s.value }

// Label implements Labeled.
func (s *ConstantSource) Label() string { return s.label }

// ContextSource reads an integer fact from the context, falling back to a
// default when the key is absent or holds a non-integer.
type ContextSource struct {
	key      string
	fallback numeric.Scalar
}

// NewContextSource returns a source reading key from the context.
func NewContextSource(key string, fallback numeric.Scalar) *ContextSource {
	return &ContextSource{key: key, fallback: fallback}
}

// Produce implements Source.
func (s *ContextSource) Produce(ctx *Context) numeric.Scalar {
	if v, ok := ctx.Get(s.key); ok {
		if i, isInt := v.Int(); isInt {
			return numeric.FromInt(i)
		}
	}
	return s.fallback
}

// Label implements Labeled.
func (s *ContextSource) Label() string { return "context:" + s.key }

// ConditionalSource produces its inner source's value when the predicate
// holds and zero otherwise.
type ConditionalSource struct {
	when  Predicate
	inner Source
}

// NewConditionalSource gates inner on pred.
func NewConditionalSource(pred Predicate, inner Source) *ConditionalSource {
	return &ConditionalSource{when: pred, inner: inner}
}

// Produce implements Source.
func (s *ConditionalSource) Produce(ctx *Context) numeric.Scalar {
	if s.when != nil && s.when(ctx) {
		return s.inner.Produce(ctx)
	}
	return numeric.Zero()
}

// Label implements Labeled.
func (s *ConditionalSource) Label() string {
	if l, ok := s.inner.(Labeled); ok {
		return "if:" + l.Label()
	}
	return "conditional"
}
