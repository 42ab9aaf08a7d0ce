package bonus

import (
	"zzstat/pkg/numeric"
	"zzstat/pkg/stat"
)

// Compiled pairs a target stat with the transform lowered from a bonus.
type Compiled struct {
	Stat      stat.ID
	Transform stat.Transform
}

// Registrar accepts compiled transforms. *engine.Resolver and *engine.Fork
// both satisfy it.
type Registrar interface {
	RegisterTransform(id stat.ID, tr stat.Transform) error
}

// Compile lowers a bonus descriptor to a concrete transform. All matching
// on the bonus kind happens here; the runtime path never inspects the
// descriptor again.
func Compile(b *Bonus) (Compiled, error) {
	if b == nil {
		return Compiled{}, &stat.ConfigError{Message: "nil bonus"}
	}
	if b.stat == "" {
		return Compiled{}, &stat.ConfigError{Message: "bonus without target stat"}
	}

	var tr stat.Transform
	switch b.kind {
	case KindFlat:
		t := stat.NewAdditive(b.amount)
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindPercent:
		t := stat.NewMultiplicative(numeric.One().Add(b.amount))
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindOverride:
		t := stat.NewOverride(b.amount)
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindClampMin:
		t := stat.NewClampMin(b.amount)
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindClampMax:
		t := stat.NewClampMax(b.amount)
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindClamp:
		t, err := stat.NewClamp(b.amount, b.upper)
		if err != nil {
			return Compiled{}, err
		}
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindScaling:
		t := stat.NewScaling(b.dep, b.amount)
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	case KindDiminishing:
		t := stat.NewDiminishing(b.amount)
		if b.phaseSet {
			t.InPhase(b.phase)
		}
		tr = t.WithPriority(b.priority)
		if b.label != "" {
			t.WithLabel(b.label)
		}
	default:
		return Compiled{}, &stat.ConfigError{Message: "unknown bonus kind"}
	}

	return Compiled{Stat: b.stat, Transform: tr}, nil
}

// CompileAll compiles a slice of bonuses, failing on the first invalid one.
func CompileAll(bonuses []*Bonus) ([]Compiled, error) {
	compiled := make([]Compiled, 0, len(bonuses))
	for _, b := range bonuses {
		c, err := Compile(b)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, c)
	}
	return compiled, nil
}

// ApplyCompiled registers every compiled transform into the target,
// typically a fork. The loop is branch-free with respect to bonus
// structure: registration is all that happens here.
func ApplyCompiled(target Registrar, compiled []Compiled) error {
	for _, c := range compiled {
		if err := target.RegisterTransform(c.Stat, c.Transform); err != nil {
			return err
		}
	}
	return nil
}
