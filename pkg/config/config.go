// Package config holds the recognized import options and the functional
// constructors used to set them, adapted from the option/apply pattern
// sketched across the teacher's pkg/db and pkg/ option types into a form
// that actually composes.
package config

import (
	"fmt"
	"runtime"

	"bulkimport/internal/dn"
)

// Config is the full set of recognized import options.
type Config struct {
	// ThreadCount is the worker count for the import and sort pools. Zero
	// means auto: 2 * runtime.NumCPU(); Resolve rejects a negative count.
	ThreadCount int

	// TempDirectory holds Phase 1's spill-run files.
	TempDirectory string

	// SkipNameValidation disables per-entry parent-existence lookups during
	// Phase 1; the naming merger (internal/namingmerge) then reconstructs
	// CHILDREN/SUBTREE and rejects entries with a dangling parent at
	// merge time instead.
	SkipNameValidation bool

	// AppendToExisting merges into a suffix's existing container instead of
	// clearing or migrating around it.
	AppendToExisting bool

	// ReplaceExistingEntries allows an incoming entry to overwrite an
	// existing one with the same name instead of being rejected as a
	// duplicate, when AppendToExisting is set.
	ReplaceExistingEntries bool

	// ClearBackend forces every suffix's container to be cleared outright,
	// overriding the include/exclude-branch clear-vs-migrate decision.
	ClearBackend bool

	// SuffixBase is the root name of the one suffix this run loads. Fanning
	// a single Import call out across multiple independent suffixes (as the
	// original importer does for a multi-backend server) is out of scope;
	// callers with several suffixes call Import once per suffix.
	SuffixBase dn.Name

	IncludeBranches []dn.Name
	ExcludeBranches []dn.Name

	// DirectBufferSize is accepted and stored, but Phase 2 does not read it:
	// no shared slab is allocated, and each run cursor decodes its run into
	// its own heap memory whatever this is set to.
	DirectBufferSize uint

	// MemoryBudget bounds how much memory internal/memplan may plan Phase 1's
	// buffer pool around. Zero defers to storage.RuntimeFlusher's own
	// fallback: the Go runtime's current heap idle span.
	MemoryBudget uint
}

// Option mutates a Config under construction.
type Option func(*Config)

// Default returns a Config with every option at its documented default.
func Default() Config {
	return Config{
		ThreadCount:   2 * runtime.NumCPU(),
		TempDirectory: "",
	}
}

// Resolve applies opts over Default and validates the result.
func Resolve(opts ...Option) (Config, error) {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	if c.ThreadCount < 0 {
		return Config{}, fmt.Errorf("config: thread count must not be negative, got %d", c.ThreadCount)
	}
	if c.TempDirectory == "" {
		return Config{}, fmt.Errorf("config: temp directory is required")
	}
	if c.ClearBackend && len(c.IncludeBranches) > 0 {
		return Config{}, fmt.Errorf("config: clear-backend is contradictory with include-branches")
	}
	if c.SuffixBase.IsZero() {
		return Config{}, fmt.Errorf("config: suffix base is required")
	}
	return c, nil
}

func WithSuffixBase(base dn.Name) Option { return func(c *Config) { c.SuffixBase = base } }

func WithThreadCount(n int) Option { return func(c *Config) { c.ThreadCount = n } }

func WithTempDirectory(path string) Option { return func(c *Config) { c.TempDirectory = path } }

func WithSkipNameValidation(skip bool) Option {
	return func(c *Config) { c.SkipNameValidation = skip }
}

func WithAppendToExisting(v bool) Option { return func(c *Config) { c.AppendToExisting = v } }

func WithReplaceExistingEntries(v bool) Option {
	return func(c *Config) { c.ReplaceExistingEntries = v }
}

func WithClearBackend(v bool) Option { return func(c *Config) { c.ClearBackend = v } }

func WithIncludeBranches(branches ...dn.Name) Option {
	return func(c *Config) { c.IncludeBranches = branches }
}

func WithExcludeBranches(branches ...dn.Name) Option {
	return func(c *Config) { c.ExcludeBranches = branches }
}

func WithDirectBufferSize(bytes uint) Option {
	return func(c *Config) { c.DirectBufferSize = bytes }
}

func WithMemoryBudget(bytes uint) Option {
	return func(c *Config) { c.MemoryBudget = bytes }
}
