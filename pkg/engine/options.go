package engine

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"zzstat/pkg/stat"
)

// Options tunes a resolver. The zero value is usable; DefaultOptions is the
// recommended starting point.
type Options struct {
	// DebugBreakdown records per-source contributions and per-transform
	// steps in resolved entries. Off by default: release resolvers only
	// carry the final value.
	DebugBreakdown bool `yaml:"debug_breakdown"`

	// EagerCycleCheck rejects cycle-introducing transforms at registration
	// time. When off, cycles are still caught defensively at resolution.
	EagerCycleCheck bool `yaml:"eager_cycle_check"`

	// CacheLimit caps the number of cached entries per resolver.
	// Zero means unbounded. When storing a resolution's entries would take
	// the cache past the limit, the cache is swept whole first; entries
	// repopulate on the next resolutions. A single resolution whose closure
	// holds more stats than the limit is still stored in full.
	CacheLimit int `yaml:"cache_limit"`
}

// DefaultOptions returns the defaults: no breakdown recording, eager cycle
// checking, unbounded cache.
func DefaultOptions() Options {
	return Options{EagerCycleCheck: true}
}

// OptionsFromYAML parses options from caller-supplied YAML bytes, applied on
// top of the defaults. The engine itself performs no I/O; reading the bytes
// is the caller's concern.
func OptionsFromYAML(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	if opts.CacheLimit < 0 {
		return Options{}, &stat.ConfigError{Message: "cache_limit must not be negative"}
	}
	return opts, nil
}

// Option configures a resolver at construction.
type Option func(*Resolver)

// WithOptions replaces the resolver's options wholesale.
func WithOptions(o Options) Option {
	return func(r *Resolver) { r.opts = o }
}

// WithLogger installs a structured logger. The default is a no-op logger;
// the engine never writes anywhere the caller did not point it.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// CacheStats reports cache effectiveness counters for one resolver or fork.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
}
