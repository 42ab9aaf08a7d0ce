package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"zzstat/pkg/numeric"
	"zzstat/pkg/stat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testTransform is a minimal Transform with every knob settable, used where
// the built-ins do not cover a rule or ordering case.
type testTransform struct {
	apply    func(current numeric.Scalar, ctx *stat.Context, look stat.Lookup) numeric.Scalar
	deps     []stat.ID
	phase    stat.Phase
	rule     stat.StackRule
	priority int
	label    string
}

func (t *testTransform) Apply(current numeric.Scalar, ctx *stat.Context, look stat.Lookup) numeric.Scalar {
	return t.apply(current, ctx, look)
}
func (t *testTransform) Dependencies() []stat.ID { return t.deps }

func (t *testTransform) Phase() stat.Phase { return t.phase }

func (t *testTransform) StackRule() stat.StackRule { return t.rule }

func (t *testTransform) Priority() int { return t.priority }

func (t *testTransform) Label() string { return t.label }

func TestResolveSumAndMultiply(t *testing.T) {
	r := New(WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100))))
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(50))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewMultiplicative(numeric.FromFloat64(1.5))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 225.0, res.Value.Float64(), 1e-9)
}

func TestResolveBatchDerivedStats(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("STR", stat.NewConstant(numeric.FromInt(10))))
	require.NoError(t, r.RegisterSource("DEX", stat.NewConstant(numeric.FromInt(8))))
	require.NoError(t, r.RegisterSource("VIT", stat.NewConstant(numeric.FromInt(12))))
	require.NoError(t, r.RegisterTransform("ATTACK", stat.NewScaling("STR", numeric.FromInt(2))))
	require.NoError(t, r.RegisterTransform("ATTACK", stat.NewScaling("DEX", numeric.FromInt(1))))
	require.NoError(t, r.RegisterTransform("DEFENSE", stat.NewScaling("VIT", numeric.FromFloat64(1.5))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewScaling("VIT", numeric.FromInt(10))))

	out, err := r.ResolveBatch([]stat.ID{"ATTACK", "DEFENSE", "HP"}, stat.EmptyContext())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.InDelta(t, 28.0, out["ATTACK"].Value.Float64(), 1e-9)
	assert.InDelta(t, 18.0, out["DEFENSE"].Value.Float64(), 1e-9)
	assert.InDelta(t, 120.0, out["HP"].Value.Float64(), 1e-9)
}

func TestPhaseOrdering(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(1000))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewAdditive(numeric.FromInt(200))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewMultiplicative(numeric.FromFloat64(1.10))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewMultiplicative(numeric.FromFloat64(1.50))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 1980.0, res.Value.Float64(), 1e-6)
}

func TestClampInFinalPhase(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("CRIT", stat.NewConstant(numeric.Zero())))
	require.NoError(t, r.RegisterTransform("CRIT", stat.NewAdditive(numeric.FromFloat64(0.30))))
	require.NoError(t, r.RegisterTransform("CRIT", stat.NewMultiplicative(numeric.FromFloat64(1.50))))
	require.NoError(t, r.RegisterTransform("CRIT", stat.NewClampMax(numeric.FromFloat64(0.75))))

	res, err := r.Resolve("CRIT", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 0.45, res.Value.Float64(), 1e-9)

	require.NoError(t, r.RegisterTransform("CRIT", stat.NewAdditive(numeric.FromFloat64(0.40))))
	res, err = r.Resolve("CRIT", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 0.75, res.Value.Float64(), 1e-9)
}

func TestCycleRejection(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTransform("A", stat.NewScaling("B", numeric.FromInt(1))))
	genBefore := r.Generation()

	err := r.RegisterTransform("B", stat.NewScaling("A", numeric.FromInt(1)))
	var cyc *stat.CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []stat.ID{"B", "A", "B"}, cyc.Path)

	// Rejection must leave the resolver untouched: no generation bump and
	// no transform installed on B.
	assert.Equal(t, genBefore, r.Generation())
	_, err = r.Resolve("B", stat.EmptyContext())
	var unknown *stat.UnknownStatError
	assert.ErrorAs(t, err, &unknown)
}

func TestResolveUnknownStat(t *testing.T) {
	r := New()
	_, err := r.Resolve("NOPE", stat.EmptyContext())
	var unknown *stat.UnknownStatError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, stat.ID("NOPE"), unknown.Stat)
}

func TestResolveMissingDependency(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterTransform("ATTACK", stat.NewScaling("STR", numeric.FromInt(2))))

	_, err := r.Resolve("ATTACK", stat.EmptyContext())
	var missing *stat.MissingDependencyError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, stat.ID("ATTACK"), missing.Stat)
	assert.Equal(t, stat.ID("STR"), missing.Dep)
}

func TestResolveDeterministic(t *testing.T) {
	r := New(WithOptions(Options{DebugBreakdown: true, EagerCycleCheck: true}))
	require.NoError(t, r.RegisterSource("STR", stat.NewConstant(numeric.FromInt(10))))
	require.NoError(t, r.RegisterSource("ATTACK", stat.NewConstant(numeric.FromInt(5))))
	require.NoError(t, r.RegisterTransform("ATTACK", stat.NewScaling("STR", numeric.FromInt(2))))
	require.NoError(t, r.RegisterTransform("ATTACK", stat.NewMultiplicative(numeric.FromFloat64(1.25))))

	first, err := r.Resolve("ATTACK", stat.EmptyContext())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		r.Invalidate("ATTACK")
		again, err := r.Resolve("ATTACK", stat.EmptyContext())
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("resolution changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestCacheHitAndTargetedInvalidation(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("STR", stat.NewConstant(numeric.FromInt(10))))
	require.NoError(t, r.RegisterSource("VIT", stat.NewConstant(numeric.FromInt(12))))
	require.NoError(t, r.RegisterTransform("ATTACK", stat.NewScaling("STR", numeric.FromInt(2))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewScaling("VIT", numeric.FromInt(10))))

	ctx := stat.EmptyContext()
	_, err := r.Resolve("ATTACK", ctx)
	require.NoError(t, err)
	_, err = r.Resolve("HP", ctx)
	require.NoError(t, err)
	require.Equal(t, 4, r.CacheStats().Entries) // ATTACK, STR, HP, VIT

	hitsBefore := r.CacheStats().Hits
	_, err = r.Resolve("ATTACK", ctx)
	require.NoError(t, err)
	assert.Equal(t, hitsBefore+1, r.CacheStats().Hits)

	// Mutating STR must drop STR and ATTACK but leave HP and VIT cached.
	require.NoError(t, r.RegisterSource("STR", stat.NewConstant(numeric.FromInt(5))))
	assert.Equal(t, 2, r.CacheStats().Entries)

	res, err := r.Resolve("ATTACK", ctx)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, res.Value.Float64(), 1e-9)

	hitsBefore = r.CacheStats().Hits
	_, err = r.Resolve("HP", ctx)
	require.NoError(t, err)
	assert.Equal(t, hitsBefore+1, r.CacheStats().Hits, "HP should still be cached")
}

func TestCacheKeyedByContextFingerprint(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("HP", stat.NewContextSource("bonus_hp", numeric.Zero())))

	a := stat.NewContext().SetInt("bonus_hp", 100).Freeze()
	b := stat.NewContext().SetInt("bonus_hp", 250).Freeze()

	resA, err := r.Resolve("HP", a)
	require.NoError(t, err)
	resB, err := r.Resolve("HP", b)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, resA.Value.Float64(), 1e-9)
	assert.InDelta(t, 250.0, resB.Value.Float64(), 1e-9)

	// Both keys stay cached; switching context back is a hit, not a recompute.
	hits := r.CacheStats().Hits
	_, err = r.Resolve("HP", a)
	require.NoError(t, err)
	assert.Equal(t, hits+1, r.CacheStats().Hits)
	assert.Equal(t, 2, r.CacheStats().Entries)
}

func TestOverrideShortCircuitsPhaseOnly(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewOverride(numeric.FromInt(500)))) // PhaseAdditive
	require.NoError(t, r.RegisterTransform("HP", stat.NewAdditive(numeric.FromInt(50)))) // same phase, skipped
	require.NoError(t, r.RegisterTransform("HP", stat.NewMultiplicative(numeric.FromInt(2)))) // later phase, runs

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, res.Value.Float64(), 1e-9)
}

func TestInactiveOverrideDoesNotShortCircuit(t *testing.T) {
	r := New()
	pred := func(ctx *stat.Context) bool {
		v, ok := ctx.Get("cursed")
		if !ok {
			return false
		}
		b, _ := v.Bool()
		return b
	}
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewConditional(pred, stat.NewOverride(numeric.FromInt(1)))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewAdditive(numeric.FromInt(50))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 150.0, res.Value.Float64(), 1e-9, "inactive override must not suppress the phase")

	cursed := stat.NewContext().SetBool("cursed", true).Freeze()
	res, err = r.Resolve("HP", cursed)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Value.Float64(), 1e-9)
}

func TestOverrideLastInBucketOrderWins(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewOverride(numeric.FromInt(42)).WithPriority(5)))
	require.NoError(t, r.RegisterTransform("HP", stat.NewOverride(numeric.FromInt(7))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	// Bucket order is priority descending, so the priority-0 override is
	// applied last and wins.
	assert.InDelta(t, 7.0, res.Value.Float64(), 1e-9)
}

func TestMinMaxRules(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("SPEED", stat.NewConstant(numeric.FromInt(120))))
	require.NoError(t, r.RegisterTransform("SPEED", &testTransform{
		apply: func(current numeric.Scalar, _ *stat.Context, _ stat.Lookup) numeric.Scalar {
			return numeric.MinOf(current, numeric.FromInt(100))
		},
		phase: stat.PhaseFinal,
		rule:  stat.RuleMin,
		label: "speed cap",
	}))
	require.NoError(t, r.RegisterTransform("SPEED", &testTransform{
		apply: func(current numeric.Scalar, _ *stat.Context, _ stat.Lookup) numeric.Scalar {
			return numeric.MaxOf(current, numeric.FromInt(10))
		},
		phase: stat.PhaseFinal,
		rule:  stat.RuleMax,
		label: "speed floor",
	}))

	res, err := r.Resolve("SPEED", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Value.Float64(), 1e-9)
}

func TestDiminishingFold(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("RESIST", stat.NewConstant(numeric.Zero())))
	require.NoError(t, r.RegisterTransform("RESIST", stat.NewDiminishing(numeric.FromFloat64(0.5))))
	require.NoError(t, r.RegisterTransform("RESIST", stat.NewDiminishing(numeric.FromFloat64(0.5))))

	res, err := r.Resolve("RESIST", stat.EmptyContext())
	require.NoError(t, err)
	// 0.5, then 0.5 scaled by the remaining share (1 - 0.5).
	assert.InDelta(t, 0.75, res.Value.Float64(), 1e-9)
}

func TestMinMaxBucketFoldsTightestBounds(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("CRIT", stat.NewConstant(numeric.FromFloat64(0.9))))
	clampA, err := stat.NewClamp(numeric.FromFloat64(0.1), numeric.FromFloat64(0.8))
	require.NoError(t, err)
	clampB, err := stat.NewClamp(numeric.FromFloat64(0.2), numeric.FromFloat64(0.7))
	require.NoError(t, err)
	require.NoError(t, r.RegisterTransform("CRIT", clampA))
	require.NoError(t, r.RegisterTransform("CRIT", clampB))

	res, err := r.Resolve("CRIT", stat.EmptyContext())
	require.NoError(t, err)
	// clamp(0.9, max(0.1, 0.2), min(0.8, 0.7))
	assert.InDelta(t, 0.7, res.Value.Float64(), 1e-9)
}

func TestBreakdownRecording(t *testing.T) {
	r := New(WithOptions(Options{DebugBreakdown: true, EagerCycleCheck: true}))
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100)).WithLabel("base")))
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(50)).WithLabel("ring")))
	require.NoError(t, r.RegisterTransform("HP", stat.NewMultiplicative(numeric.FromFloat64(1.5))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)

	want := &stat.Resolved{
		Value: numeric.FromInt(225),
		Sources: []stat.SourceContribution{
			{Origin: "base", Value: numeric.FromInt(100)},
			{Origin: "ring", Value: numeric.FromInt(50)},
		},
		Steps: []stat.TransformStep{
			{
				Phase:  stat.PhaseMultiplicative,
				Rule:   stat.RuleMultiplicative,
				Before: numeric.FromInt(150),
				After:  numeric.FromInt(225),
				Label:  "mul",
			},
		},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("breakdown mismatch (-want +got):\n%s", diff)
	}
}

func TestBreakdownSkippedByDefault(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewMultiplicative(numeric.FromInt(2))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.Steps)
	assert.InDelta(t, 200.0, res.Value.Float64(), 1e-9)
}

func TestResolveBatchFailsAtomically(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(100))))

	out, err := r.ResolveBatch([]stat.ID{"HP", "GHOST"}, stat.EmptyContext())
	var unknown *stat.UnknownStatError
	require.ErrorAs(t, err, &unknown)
	assert.Nil(t, out)
}

func TestRemoveTransformsInvalidatesStat(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("VIT", stat.NewConstant(numeric.FromInt(12))))
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(50))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewScaling("VIT", numeric.FromInt(10))))

	res, err := r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 170.0, res.Value.Float64(), 1e-9)

	r.RemoveTransforms("HP")
	res, err = r.Resolve("HP", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, res.Value.Float64(), 1e-9)
}

func TestStatWithOnlySourcesResolvesToSum(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("GOLD", stat.NewConstant(numeric.FromInt(3))))
	require.NoError(t, r.RegisterSource("GOLD", stat.NewConstant(numeric.FromInt(4))))

	res, err := r.Resolve("GOLD", stat.EmptyContext())
	require.NoError(t, err)
	assert.InDelta(t, 7.0, res.Value.Float64(), 1e-9)
}

func TestRegistrationValidation(t *testing.T) {
	r := New()
	var cfg *stat.ConfigError
	assert.ErrorAs(t, r.RegisterSource("", stat.NewConstant(numeric.Zero())), &cfg)
	assert.ErrorAs(t, r.RegisterSource("HP", nil), &cfg)
	assert.ErrorAs(t, r.RegisterTransform("", stat.NewAdditive(numeric.Zero())), &cfg)
	assert.ErrorAs(t, r.RegisterTransform("HP", nil), &cfg)
}

func TestCacheLimitSweeps(t *testing.T) {
	r := New(WithOptions(Options{EagerCycleCheck: true, CacheLimit: 2}))
	for _, id := range []stat.ID{"A", "B", "C"} {
		require.NoError(t, r.RegisterSource(id, stat.NewConstant(numeric.FromInt(1))))
	}
	ctx := stat.EmptyContext()
	_, err := r.Resolve("A", ctx)
	require.NoError(t, err)
	_, err = r.Resolve("B", ctx)
	require.NoError(t, err)
	_, err = r.Resolve("C", ctx)
	require.NoError(t, err)

	stats := r.CacheStats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(2), stats.Evictions)
}

func TestGenerationCountsMutations(t *testing.T) {
	r := New()
	require.Zero(t, r.Generation())
	require.NoError(t, r.RegisterSource("HP", stat.NewConstant(numeric.FromInt(1))))
	require.NoError(t, r.RegisterTransform("HP", stat.NewAdditive(numeric.FromInt(1))))
	r.Invalidate("HP")
	r.RemoveSources("HP")
	assert.Equal(t, uint64(4), r.Generation())
}

func TestOptionsFromYAML(t *testing.T) {
	opts, err := OptionsFromYAML([]byte("debug_breakdown: true\ncache_limit: 64\n"))
	require.NoError(t, err)
	assert.True(t, opts.DebugBreakdown)
	assert.True(t, opts.EagerCycleCheck, "defaults apply underneath the document")
	assert.Equal(t, 64, opts.CacheLimit)

	_, err = OptionsFromYAML([]byte("cache_limit: -1\n"))
	var cfg *stat.ConfigError
	require.ErrorAs(t, err, &cfg)

	_, err = OptionsFromYAML([]byte("{not yaml"))
	require.Error(t, err)
}

func TestOverflowReportedWithSaturatedValue(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterSource("DMG", stat.NewConstant(numeric.FromFloat64(1e308))))
	require.NoError(t, r.RegisterTransform("DMG", stat.NewMultiplicative(numeric.FromInt(10))))

	res, err := r.Resolve("DMG", stat.EmptyContext())
	var overflow *stat.OverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, stat.ID("DMG"), overflow.Stat)
	require.NotNil(t, res, "the saturated value is still returned")
	assert.True(t, res.Value.Saturated())

	// A cache hit re-reports the overflow.
	res, err = r.Resolve("DMG", stat.EmptyContext())
	require.ErrorAs(t, err, &overflow)
	require.NotNil(t, res)
}

func TestResolutionCycleDetectedDefensively(t *testing.T) {
	// With eager checking off, a cycle is only caught at resolution time.
	r := New(WithOptions(Options{EagerCycleCheck: false}))
	require.NoError(t, r.RegisterTransform("A", stat.NewScaling("B", numeric.FromInt(1))))
	require.NoError(t, r.RegisterTransform("B", stat.NewScaling("A", numeric.FromInt(1))))

	_, err := r.Resolve("A", stat.EmptyContext())
	var cyc *stat.CycleError
	require.ErrorAs(t, err, &cyc)
	assert.NotEmpty(t, cyc.Path)
}
