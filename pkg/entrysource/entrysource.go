// Package entrysource declares the entry-stream collaborator the import
// workers pull from. Implementations parse whatever wire format the caller
// stores entries in; the core only depends on this interface.
package entrysource

import (
	"context"

	"bulkimport/internal/dn"
	"bulkimport/pkg/model"
)

// SuffixHint names the base an entry was read under, letting the caller's
// parser route entries to the right suffix without the core having to parse
// names itself ahead of derivation.
type SuffixHint struct {
	Base dn.Name
}

// Source is the entry stream import workers contend over. A single Source
// is shared by every import worker; Next must be safe for concurrent calls.
// Next returns io.EOF once the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (model.Entry, SuffixHint, error)
}
