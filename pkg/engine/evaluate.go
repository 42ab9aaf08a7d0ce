package engine

import (
	"sort"
	"strconv"

	"zzstat/internal/graph"
	"zzstat/pkg/numeric"
	"zzstat/pkg/stat"
)

// view is the read surface the evaluation pipeline runs against. A base
// resolver serves its own registries; a fork serves the base lists with its
// overlay additions appended, so the pipeline itself never knows which one
// it is evaluating.
type view interface {
	sourcesOf(id stat.ID) []stat.Source
	transformsOf(id stat.ID) []stat.Transform
	depsOf(id stat.ID) []stat.ID
	dependentsOf(id stat.ID) []stat.ID
	known(id stat.ID) bool
}

// transformEntry pairs a transform with its position in the stat's combined
// transform list. The position breaks priority ties, keeping bucket order
// identical across runs.
type transformEntry struct {
	tr    stat.Transform
	index int
}

// evaluate resolves the transitive closure of targets in dependency order.
// On success it returns an entry for every stat in the closure. A saturated
// backend yields the full result set together with an OverflowError; every
// other error yields a nil map.
func evaluate(v view, targets []stat.ID, ctx *stat.Context, opts Options) (map[stat.ID]*stat.Resolved, error) {
	for _, t := range targets {
		if !v.known(t) {
			return nil, &stat.UnknownStatError{Stat: t}
		}
	}

	order, cycle := graph.TopoOrderFunc(targets, v.depsOf)
	if cycle != nil {
		return nil, &stat.CycleError{Path: cycle}
	}

	// Every scheduled stat must be defined somewhere; an undefined one can
	// only be here because a transform declared it.
	for _, s := range order {
		if v.known(s) {
			continue
		}
		for _, dependent := range order {
			for _, dep := range v.depsOf(dependent) {
				if dep == s {
					return nil, &stat.MissingDependencyError{Stat: dependent, Dep: s}
				}
			}
		}
		return nil, &stat.UnknownStatError{Stat: s}
	}

	local := make(map[stat.ID]numeric.Scalar, len(order))
	look := func(id stat.ID) (numeric.Scalar, bool) {
		val, ok := local[id]
		return val, ok
	}

	results := make(map[stat.ID]*stat.Resolved, len(order))
	var overflow error
	for _, s := range order {
		res := resolveOne(v, s, ctx, look, opts.DebugBreakdown)
		local[s] = res.Value
		results[s] = res
		if overflow == nil && res.Value.Saturated() {
			overflow = &stat.OverflowError{Stat: s}
		}
	}
	return results, overflow
}

// resolveOne computes a single stat: sources summed in registration order,
// then transforms folded phase by phase.
func resolveOne(v view, s stat.ID, ctx *stat.Context, look stat.Lookup, record bool) *stat.Resolved {
	res := &stat.Resolved{}
	value := numeric.Zero()
	for i, src := range v.sourcesOf(s) {
		contribution := src.Produce(ctx)
		value = value.Add(contribution)
		if record {
			res.Sources = append(res.Sources, stat.SourceContribution{
				Origin: sourceOrigin(src, i),
				Value:  contribution,
			})
		}
	}

	transforms := v.transformsOf(s)
	if len(transforms) > 0 {
		byPhase := make(map[stat.Phase][]transformEntry)
		for i, tr := range transforms {
			byPhase[tr.Phase()] = append(byPhase[tr.Phase()], transformEntry{tr: tr, index: i})
		}
		phases := make([]stat.Phase, 0, len(byPhase))
		for p := range byPhase {
			phases = append(phases, p)
		}
		sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
		for _, p := range phases {
			value = foldPhase(value, p, byPhase[p], ctx, look, record, res)
		}
	}

	res.Value = value
	return res
}

// foldPhase applies one phase's transforms to the running value, grouped by
// stack rule in the fixed rule order. An override ends the phase early.
func foldPhase(value numeric.Scalar, p stat.Phase, entries []transformEntry, ctx *stat.Context, look stat.Lookup, record bool, res *stat.Resolved) numeric.Scalar {
	var buckets [int(stat.RuleMinMax) + 1][]transformEntry
	for _, e := range entries {
		rule := e.tr.StackRule()
		buckets[rule] = append(buckets[rule], e)
	}

	step := func(rule stat.StackRule, before, after numeric.Scalar, label string) {
		if record {
			res.Steps = append(res.Steps, stat.TransformStep{
				Phase: p, Rule: rule, Before: before, After: after, Label: label,
			})
		}
	}

	for _, rule := range stat.StackRules() {
		bucket := buckets[rule]
		if len(bucket) == 0 {
			continue
		}
		sortBucket(bucket)

		switch rule {
		case stat.RuleOverride:
			active := bucket[:0:0]
			for _, e := range bucket {
				if c, ok := e.tr.(stat.Conditional); ok && !c.Active(ctx) {
					continue
				}
				active = append(active, e)
			}
			if len(active) == 0 {
				continue
			}
			// Each override replaces the value; the last in bucket order
			// wins, then the rest of the phase is skipped.
			for _, e := range active {
				before := value
				value = e.tr.Apply(value, ctx, look)
				step(rule, before, value, transformLabel(e.tr))
			}
			return value

		case stat.RuleDiminishing:
			share := numeric.Zero()
			for _, e := range bucket {
				contribution := e.tr.Apply(numeric.Zero(), ctx, look)
				remaining := numeric.One().Sub(share)
				if remaining.Cmp(numeric.Zero()) < 0 {
					remaining = numeric.Zero()
				}
				scaled := contribution.Mul(remaining)
				before := value
				value = value.Add(scaled)
				share = share.Add(scaled)
				step(rule, before, value, transformLabel(e.tr))
			}

		case stat.RuleMinMax:
			var lo, hi numeric.Scalar
			var hasLo, hasHi bool
			var rest []transformEntry
			for _, e := range bucket {
				bounded, ok := e.tr.(stat.Bounded)
				if !ok {
					rest = append(rest, e)
					continue
				}
				mn, mx, hm, hx := bounded.Bounds()
				if hm && (!hasLo || mn.Cmp(lo) > 0) {
					lo, hasLo = mn, true
				}
				if hx && (!hasHi || mx.Cmp(hi) < 0) {
					hi, hasHi = mx, true
				}
			}
			if hasLo || hasHi {
				before := value
				if hasLo {
					value = numeric.MaxOf(value, lo)
				}
				if hasHi {
					value = numeric.MinOf(value, hi)
				}
				step(rule, before, value, "clamp")
			}
			for _, e := range rest {
				before := value
				value = e.tr.Apply(value, ctx, look)
				step(rule, before, value, transformLabel(e.tr))
			}

		default:
			// Additive, Multiplicative, Min, and Max fold by sequential
			// application: the built-ins implement exactly the rule's
			// combining operation.
			for _, e := range bucket {
				before := value
				value = e.tr.Apply(value, ctx, look)
				step(rule, before, value, transformLabel(e.tr))
			}
		}
	}
	return value
}

// sortBucket orders a (phase, rule) bucket: priority descending, then
// position in the combined transform list ascending.
func sortBucket(bucket []transformEntry) {
	sort.SliceStable(bucket, func(i, j int) bool {
		if bucket[i].tr.Priority() != bucket[j].tr.Priority() {
			return bucket[i].tr.Priority() > bucket[j].tr.Priority()
		}
		return bucket[i].index < bucket[j].index
	})
}

func sourceOrigin(src stat.Source, index int) string {
	if l, ok := src.(stat.Labeled); ok {
		return l.Label()
	}
	return "source#" + strconv.Itoa(index)
}

func transformLabel(tr stat.Transform) string {
	if l, ok := tr.(stat.Labeled); ok {
		return l.Label()
	}
	return tr.StackRule().String()
}
