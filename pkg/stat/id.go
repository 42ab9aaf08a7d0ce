// Package stat defines the vocabulary of the stat engine: identifiers,
// evaluation contexts, base-value sources, value transforms with their phase
// and stacking discipline, resolved breakdowns, and the error taxonomy.
package stat

import "sort"

// ID names a stat. IDs are caller-supplied opaque strings; the engine ships
// no built-in identifiers. Equality and map hashing are by content, so
// duplicate strings always name the same stat.
type ID string

// String returns the identifier text.
func (id ID) String() string { return string(id) }

// SortIDs orders ids ascending in place. Used wherever a deterministic
// iteration order over stats is required.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
