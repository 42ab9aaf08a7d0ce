package stat

import (
	"crypto/sha256"
	"encoding/binary"
)

// ValueKind tags the variant held by a context Value.
type ValueKind uint8

const (
	// KindBool marks a boolean value.
	KindBool ValueKind = iota
	// KindInt marks a signed integer value.
	KindInt
	// KindString marks a string value.
	KindString
)

// Value is the small tagged union stored in a Context: a bool, an int64, or
// a string.
type Value struct {
	kind ValueKind
	b    bool
	i    int64
	s    string
}

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// Bool returns the boolean payload and whether the value holds one.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBool }

// Int returns the integer payload and whether the value holds one.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInt }

// Str returns the string payload and whether the value holds one.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Context is a read-only bag of runtime facts (in_combat, zone, ...) that
// sources and conditional transforms consult during resolution. Contexts are
// immutable once frozen; rebinding a key requires building a new instance.
// A nil *Context behaves like an empty one.
type Context struct {
	entries map[string]Value
	fp      uint64
}

// ContextBuilder accumulates entries before freezing them into a Context.
type ContextBuilder struct {
	entries map[string]Value
}

// NewContext starts a context builder.
func NewContext() *ContextBuilder {
	return &ContextBuilder{entries: make(map[string]Value)}
}

// SetBool binds key to a boolean. The last binding for a key wins.
func (b *ContextBuilder) SetBool(key string, v bool) *ContextBuilder {
	b.entries[key] = BoolValue(v)
	return b
}

// SetInt binds key to an integer. The last binding for a key wins.
func (b *ContextBuilder) SetInt(key string, v int64) *ContextBuilder {
	b.entries[key] = IntValue(v)
	return b
}

// SetString binds key to a string. The last binding for a key wins.
func (b *ContextBuilder) SetString(key string, v string) *ContextBuilder {
	b.entries[key] = StringValue(v)
	return b
}

// Freeze copies the accumulated entries into an immutable Context and
// computes its fingerprint. The builder stays usable afterwards.
func (b *ContextBuilder) Freeze() *Context {
	entries := make(map[string]Value, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Context{entries: entries, fp: fingerprintEntries(entries)}
}

// EmptyContext returns a frozen context with no entries.
func EmptyContext() *Context {
	return &Context{entries: map[string]Value{}, fp: fingerprintEntries(nil)}
}

// Get returns the value bound to key.
func (c *Context) Get(key string) (Value, bool) {
	if c == nil {
		return Value{}, false
	}
	v, ok := c.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (c *Context) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Fingerprint returns a 64-bit order-independent hash of the entries. Two
// contexts with identical contents fingerprint identically regardless of the
// order keys were bound; the cache is keyed on this value.
func (c *Context) Fingerprint() uint64 {
	if c == nil {
		return fingerprintEntries(nil)
	}
	return c.fp
}

// fingerprintSeed keeps the empty context away from zero.
const fingerprintSeed = 0x9e3779b97f4a7c15

// fingerprintEntries hashes each (key, tag, value) triple independently and
// folds the digests with XOR, which makes the result insensitive to
// iteration order. Keys are unique within a map, so no two entries can
// cancel each other.
func fingerprintEntries(entries map[string]Value) uint64 {
	fp := uint64(fingerprintSeed)
	var buf [8]byte
	for k, v := range entries {
		h := sha256.New()
		h.Write([]byte(k))
		h.Write([]byte{0, byte(v.kind), 0})
		switch v.kind {
		case KindBool:
			if v.b {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		case KindInt:
			binary.BigEndian.PutUint64(buf[:], uint64(v.i))
			h.Write(buf[:])
		case KindString:
			h.Write([]byte(v.s))
		}
		sum := h.Sum(nil)
		fp ^= binary.BigEndian.Uint64(sum[:8])
	}
	return fp
}
