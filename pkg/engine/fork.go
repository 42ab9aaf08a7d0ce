package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zzstat/internal/graph"
	"zzstat/pkg/stat"
)

// Fork is a copy-on-write overlay over a base resolver (or another fork).
// Creating one allocates only the empty overlays and cache; no base data is
// copied. For any stat the fork presents the base's source and transform
// lists with the overlay's additions appended, and the union of base and
// overlay dependency edges.
//
// Forks see live base state: registrations on the base after the fork show
// through. Fork mutations never touch the base, and invalidation is
// isolated — each side sweeps only its own cache. The fork keeps the base
// registries reachable for as long as it lives, so dropping the base first
// is fine.
type Fork struct {
	mu         sync.RWMutex
	base       view
	sources    map[stat.ID][]stat.Source
	transforms map[stat.ID][]stat.Transform
	overlay    *graph.Graph
	cache      map[cacheKey]*stat.Resolved
	cstats     CacheStats
	gen        uint64
	opts       Options
	log        *zap.Logger
	id         string
}

func newFork(base view, opts Options, log *zap.Logger) *Fork {
	return &Fork{
		base:       base,
		sources:    make(map[stat.ID][]stat.Source),
		transforms: make(map[stat.ID][]stat.Transform),
		overlay:    graph.New(),
		cache:      make(map[cacheKey]*stat.Resolved),
		opts:       opts,
		log:        log,
		id:         uuid.NewString()[:8],
	}
}

// ID returns the short identifier used in log fields.
func (f *Fork) ID() string { return f.id }

// Generation returns the fork's own mutation counter.
func (f *Fork) Generation() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.gen
}

// CacheStats returns a snapshot of the fork's cache counters.
func (f *Fork) CacheStats() CacheStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := f.cstats
	s.Entries = len(f.cache)
	return s
}

// RegisterSource appends a source to the fork's overlay for the stat. The
// base is not modified.
func (f *Fork) RegisterSource(id stat.ID, src stat.Source) error {
	if id == "" {
		return &stat.ConfigError{Message: "empty stat id"}
	}
	if src == nil {
		return &stat.ConfigError{Message: "nil source"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[id] = append(f.sources[id], src)
	f.overlay.EnsureNode(id)
	f.gen++
	f.invalidateLocked(id)
	f.log.Debug("source registered on fork",
		zap.String("fork", f.id),
		zap.String("stat", string(id)),
		zap.Uint64("generation", f.gen))
	return nil
}

// RegisterTransform appends a transform to the fork's overlay. Cycle
// checking runs against the combined base-plus-overlay graph; rejection
// leaves both the fork and the base untouched.
func (f *Fork) RegisterTransform(id stat.ID, tr stat.Transform) error {
	if id == "" {
		return &stat.ConfigError{Message: "empty stat id"}
	}
	if tr == nil {
		return &stat.ConfigError{Message: "nil transform"}
	}
	if tr.StackRule() < stat.RuleOverride || tr.StackRule() > stat.RuleMinMax {
		return &stat.ConfigError{Message: "unknown stack rule"}
	}
	deps := tr.Dependencies()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.EagerCycleCheck {
		for _, dep := range deps {
			if path := graph.WouldCycle(id, dep, f.combinedDepsLocked); path != nil {
				return &stat.CycleError{Path: path}
			}
		}
	}
	f.transforms[id] = append(f.transforms[id], tr)
	f.overlay.EnsureNode(id)
	for _, dep := range deps {
		f.overlay.AddEdge(id, dep)
	}
	f.gen++
	f.invalidateLocked(id)
	f.log.Debug("transform registered on fork",
		zap.String("fork", f.id),
		zap.String("stat", string(id)),
		zap.Int("dependencies", len(deps)),
		zap.Uint64("generation", f.gen))
	return nil
}

// RemoveSources drops the fork's overlay sources for the stat. Base sources
// still apply.
func (f *Fork) RemoveSources(id stat.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sources, id)
	f.gen++
	f.invalidateLocked(id)
}

// RemoveTransforms drops the fork's overlay transforms and edges for the
// stat. Base transforms still apply.
func (f *Fork) RemoveTransforms(id stat.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.transforms, id)
	f.overlay.RemoveEdgesFrom(id)
	f.gen++
	f.invalidateLocked(id)
}

// Resolve computes the stat's value through the fork's combined view. See
// Resolver.Resolve for the contract.
func (f *Fork) Resolve(id stat.ID, ctx *stat.Context) (*stat.Resolved, error) {
	fp := ctx.Fingerprint()
	if res, err, ok := f.probe(id, fp); ok {
		return res, err
	}
	results, err := evaluate(f, []stat.ID{id}, ctx, f.options())
	if results == nil {
		return nil, err
	}
	f.store(results, fp)
	return results[id], err
}

// ResolveBatch resolves every requested stat through the fork's combined
// view. See Resolver.ResolveBatch for the contract.
func (f *Fork) ResolveBatch(ids []stat.ID, ctx *stat.Context) (map[stat.ID]*stat.Resolved, error) {
	fp := ctx.Fingerprint()
	out := make(map[stat.ID]*stat.Resolved, len(ids))
	var missing []stat.ID
	var hitErr error
	for _, id := range ids {
		res, err, ok := f.probe(id, fp)
		if !ok {
			missing = append(missing, id)
			continue
		}
		out[id] = res
		if err != nil && hitErr == nil {
			hitErr = err
		}
	}
	if len(missing) == 0 {
		return out, hitErr
	}
	results, err := evaluate(f, missing, ctx, f.options())
	if results == nil {
		return nil, err
	}
	f.store(results, fp)
	for _, id := range missing {
		out[id] = results[id]
	}
	if hitErr != nil && err == nil {
		err = hitErr
	}
	return out, err
}

// Invalidate drops the fork's cached entries for the stat and its
// transitive dependents. The base cache is untouched.
func (f *Fork) Invalidate(id stat.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.invalidateLocked(id)
}

// Fork layers another overlay on top of this one. Views chain: the new fork
// sees this fork's combined state live.
func (f *Fork) Fork() *Fork {
	child := newFork(f, f.options(), f.log)
	f.log.Debug("fork created",
		zap.String("fork", f.id),
		zap.String("child", child.id))
	return child
}

func (f *Fork) options() Options {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.opts
}

func (f *Fork) probe(id stat.ID, fp uint64) (*stat.Resolved, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.cache[cacheKey{stat: id, fp: fp}]
	if !ok {
		f.cstats.Misses++
		return nil, nil, false
	}
	f.cstats.Hits++
	if res.Value.Saturated() {
		return res, &stat.OverflowError{Stat: id}, true
	}
	return res, nil, true
}

func (f *Fork) store(results map[stat.ID]*stat.Resolved, fp uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opts.CacheLimit > 0 && len(f.cache)+len(results) > f.opts.CacheLimit {
		f.cstats.Evictions += uint64(len(f.cache))
		f.cache = make(map[cacheKey]*stat.Resolved)
	}
	for id, res := range results {
		f.cache[cacheKey{stat: id, fp: fp}] = res
	}
}

func (f *Fork) invalidateLocked(id stat.ID) {
	stale := graph.DescendantsFunc(id, f.combinedDependentsLocked)
	stale[id] = struct{}{}
	removed := 0
	for key := range f.cache {
		if _, ok := stale[key.stat]; ok {
			delete(f.cache, key)
			removed++
		}
	}
	f.cstats.Evictions += uint64(removed)
}

// combinedDepsLocked merges base and overlay dependencies. Caller holds the
// fork's lock; the base locks itself.
func (f *Fork) combinedDepsLocked(id stat.ID) []stat.ID {
	return mergeSorted(f.base.depsOf(id), f.overlay.DependenciesOf(id))
}

func (f *Fork) combinedDependentsLocked(id stat.ID) []stat.ID {
	return mergeSorted(f.base.dependentsOf(id), f.overlay.DependentsOf(id))
}

// view implementation

func (f *Fork) sourcesOf(id stat.ID) []stat.Source {
	base := f.base.sourcesOf(id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	own := f.sources[id]
	if len(own) == 0 {
		return base
	}
	combined := make([]stat.Source, 0, len(base)+len(own))
	combined = append(combined, base...)
	combined = append(combined, own...)
	return combined
}

func (f *Fork) transformsOf(id stat.ID) []stat.Transform {
	base := f.base.transformsOf(id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	own := f.transforms[id]
	if len(own) == 0 {
		return base
	}
	combined := make([]stat.Transform, 0, len(base)+len(own))
	combined = append(combined, base...)
	combined = append(combined, own...)
	return combined
}

func (f *Fork) depsOf(id stat.ID) []stat.ID {
	base := f.base.depsOf(id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return mergeSorted(base, f.overlay.DependenciesOf(id))
}

func (f *Fork) dependentsOf(id stat.ID) []stat.ID {
	base := f.base.dependentsOf(id)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return mergeSorted(base, f.overlay.DependentsOf(id))
}

func (f *Fork) known(id stat.ID) bool {
	if f.base.known(id) {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sources[id]) > 0 || len(f.transforms[id]) > 0
}

// mergeSorted unions two ascending ID slices into one ascending slice.
func mergeSorted(a, b []stat.ID) []stat.ID {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]stat.ID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
