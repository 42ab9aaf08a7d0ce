// Package engine hosts the stat resolver: registration of sources and
// transforms, the dependency graph, the resolution cache, and copy-on-write
// forks for previewing alternative configurations.
package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zzstat/internal/graph"
	"zzstat/pkg/stat"
)

// cacheKey identifies one resolution: the stat plus the context fingerprint.
// A changed context is not an invalidation — a distinct key simply misses.
type cacheKey struct {
	stat stat.ID
	fp   uint64
}

// Resolver owns the registries and cache for one game entity. All operations
// are synchronous and perform no I/O. Individual methods are safe for
// concurrent use, but callers that need a consistent sequence of mutations
// and resolutions must serialize externally.
type Resolver struct {
	mu         sync.RWMutex
	sources    map[stat.ID][]stat.Source
	transforms map[stat.ID][]stat.Transform
	graph      *graph.Graph
	cache      map[cacheKey]*stat.Resolved
	cstats     CacheStats
	gen        uint64
	opts       Options
	log        *zap.Logger
	id         string
}

// New returns an empty resolver.
func New(options ...Option) *Resolver {
	r := &Resolver{
		sources:    make(map[stat.ID][]stat.Source),
		transforms: make(map[stat.ID][]stat.Transform),
		graph:      graph.New(),
		cache:      make(map[cacheKey]*stat.Resolved),
		opts:       DefaultOptions(),
		log:        zap.NewNop(),
		id:         uuid.NewString()[:8],
	}
	for _, opt := range options {
		opt(r)
	}
	r.log.Debug("resolver created", zap.String("resolver", r.id))
	return r
}

// ID returns the short identifier used in log fields.
func (r *Resolver) ID() string { return r.id }

// Generation returns the mutation counter. Every registration, removal, and
// explicit invalidation bumps it.
func (r *Resolver) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// CacheStats returns a snapshot of the cache counters.
func (r *Resolver) CacheStats() CacheStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.cstats
	s.Entries = len(r.cache)
	return s
}

// RegisterSource appends a base-value source for the stat and invalidates
// the stat and its dependents.
func (r *Resolver) RegisterSource(id stat.ID, src stat.Source) error {
	if id == "" {
		return &stat.ConfigError{Message: "empty stat id"}
	}
	if src == nil {
		return &stat.ConfigError{Message: "nil source"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[id] = append(r.sources[id], src)
	r.graph.EnsureNode(id)
	r.gen++
	r.invalidateLocked(id)
	r.log.Debug("source registered",
		zap.String("resolver", r.id),
		zap.String("stat", string(id)),
		zap.Uint64("generation", r.gen))
	return nil
}

// RegisterTransform appends a transform for the stat, records its declared
// dependencies as graph edges, and invalidates the stat and its dependents.
// A transform that would close a dependency cycle is rejected and the
// resolver is left untouched.
func (r *Resolver) RegisterTransform(id stat.ID, tr stat.Transform) error {
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

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.EagerCycleCheck {
		for _, dep := range deps {
			if path := graph.WouldCycle(id, dep, r.depsLocked); path != nil {
				return &stat.CycleError{Path: path}
			}
		}
	}
	r.transforms[id] = append(r.transforms[id], tr)
	r.graph.EnsureNode(id)
	for _, dep := range deps {
		r.graph.AddEdge(id, dep)
	}
	r.gen++
	r.invalidateLocked(id)
	r.log.Debug("transform registered",
		zap.String("resolver", r.id),
		zap.String("stat", string(id)),
		zap.Int("dependencies", len(deps)),
		zap.Uint64("generation", r.gen))
	return nil
}

// RemoveSources drops every source of the stat and invalidates the stat and
// its dependents.
func (r *Resolver) RemoveSources(id stat.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, id)
	r.gen++
	r.invalidateLocked(id)
}

// RemoveTransforms drops every transform of the stat, along with the stat's
// outgoing dependency edges, and invalidates the stat and its dependents.
func (r *Resolver) RemoveTransforms(id stat.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transforms, id)
	r.graph.RemoveEdgesFrom(id)
	r.gen++
	r.invalidateLocked(id)
}

// Resolve computes the stat's value under the given context, consulting the
// cache first. The returned entry is shared with the cache and must be
// treated as read-only; use Clone to keep a private copy. When the numeric
// backend saturates, the entry is returned together with an OverflowError.
func (r *Resolver) Resolve(id stat.ID, ctx *stat.Context) (*stat.Resolved, error) {
	fp := ctx.Fingerprint()
	if res, err, ok := r.probe(id, fp); ok {
		return res, err
	}
	results, err := evaluate(r, []stat.ID{id}, ctx, r.options())
	if results == nil {
		return nil, err
	}
	r.store(results, fp)
	return results[id], err
}

// ResolveBatch resolves every requested stat under one context, computing
// the shared transitive closure once. The batch fails atomically: on any
// error other than overflow no entries are returned.
func (r *Resolver) ResolveBatch(ids []stat.ID, ctx *stat.Context) (map[stat.ID]*stat.Resolved, error) {
	fp := ctx.Fingerprint()
	out := make(map[stat.ID]*stat.Resolved, len(ids))
	var missing []stat.ID
	var hitErr error
	for _, id := range ids {
		res, err, ok := r.probe(id, fp)
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
	results, err := evaluate(r, missing, ctx, r.options())
	if results == nil {
		return nil, err
	}
	r.store(results, fp)
	for _, id := range missing {
		out[id] = results[id]
	}
	if hitErr != nil && err == nil {
		err = hitErr
	}
	return out, err
}

// Invalidate drops cached entries for the stat and every transitive
// dependent, across all context fingerprints.
func (r *Resolver) Invalidate(id stat.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.invalidateLocked(id)
}

// Fork returns a copy-on-write overlay over this resolver. The fork shares
// the base registries (no data is copied) and owns only its overlays and
// cache. Forks see live base state; base mutations after the fork show
// through, while fork mutations never touch the base.
func (r *Resolver) Fork() *Fork {
	f := newFork(r, r.options(), r.log)
	r.log.Debug("fork created",
		zap.String("resolver", r.id),
		zap.String("fork", f.id))
	return f
}

func (r *Resolver) options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// probe checks the cache. The third return distinguishes a miss from a hit;
// a hit on a saturated value re-reports the overflow.
func (r *Resolver) probe(id stat.ID, fp uint64) (*stat.Resolved, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.cache[cacheKey{stat: id, fp: fp}]
	if !ok {
		r.cstats.Misses++
		return nil, nil, false
	}
	r.cstats.Hits++
	if res.Value.Saturated() {
		return res, &stat.OverflowError{Stat: id}, true
	}
	return res, nil, true
}

// store caches every freshly evaluated entry, sweeping the cache first when
// adding them would exceed the configured limit.
func (r *Resolver) store(results map[stat.ID]*stat.Resolved, fp uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.CacheLimit > 0 && len(r.cache)+len(results) > r.opts.CacheLimit {
		r.cstats.Evictions += uint64(len(r.cache))
		r.cache = make(map[cacheKey]*stat.Resolved)
	}
	for id, res := range results {
		r.cache[cacheKey{stat: id, fp: fp}] = res
	}
}

// invalidateLocked drops cache entries for the stat and its transitive
// dependents. Caller holds the write lock.
func (r *Resolver) invalidateLocked(id stat.ID) {
	stale := graph.DescendantsFunc(id, r.graph.DependentsOf)
	stale[id] = struct{}{}
	removed := 0
	for key := range r.cache {
		if _, ok := stale[key.stat]; ok {
			delete(r.cache, key)
			removed++
		}
	}
	r.cstats.Evictions += uint64(removed)
	if removed > 0 {
		r.log.Debug("cache invalidated",
			zap.String("resolver", r.id),
			zap.String("stat", string(id)),
			zap.Int("entries", removed))
	}
}

// depsLocked enumerates direct dependencies. Caller holds either lock.
func (r *Resolver) depsLocked(id stat.ID) []stat.ID {
	return r.graph.DependenciesOf(id)
}

// view implementation

func (r *Resolver) sourcesOf(id stat.ID) []stat.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[id]
}

func (r *Resolver) transformsOf(id stat.ID) []stat.Transform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transforms[id]
}

func (r *Resolver) depsOf(id stat.ID) []stat.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.DependenciesOf(id)
}

func (r *Resolver) dependentsOf(id stat.ID) []stat.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graph.DependentsOf(id)
}

func (r *Resolver) known(id stat.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources[id]) > 0 || len(r.transforms[id]) > 0
}
