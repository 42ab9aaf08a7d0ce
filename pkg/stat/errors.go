package stat

import (
	"fmt"
	"strings"
)

// UnknownStatError reports resolution of a stat that has no sources and no
// transforms registered anywhere in the resolver chain.
type UnknownStatError struct {
	Stat ID
}

// Error implements the error interface.
func (e *UnknownStatError) Error() string {
	return fmt.Sprintf("stat %s: no sources or transforms registered", e.Stat)
}

// CycleError reports a dependency cycle. Path lists the stats along the
// cycle, starting and ending at the same stat.
type CycleError struct {
	Path []ID
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// MissingDependencyError reports a transform dependency that cannot be
// resolved: the dependency has no sources and no transforms of its own.
type MissingDependencyError struct {
	Stat ID
	Dep  ID
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("stat %s: dependency %s has no definition", e.Stat, e.Dep)
}

// OverflowError reports that the numeric backend saturated while resolving
// a stat. The resolved entry carrying the saturated value is still returned
// alongside this error.
type OverflowError struct {
	Stat ID
}

// Error implements the error interface.
func (e *OverflowError) Error() string {
	return fmt.Sprintf("stat %s: numeric backend saturated", e.Stat)
}

// ConfigError reports an invalid configuration, such as a clamp whose lower
// bound exceeds its upper bound.
type ConfigError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Message
}
