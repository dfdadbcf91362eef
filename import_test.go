package bulkimport

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	baseid "bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/pkg/config"
	"bulkimport/pkg/entrysource"
	"bulkimport/pkg/model"
	"bulkimport/pkg/refstore"
	"bulkimport/pkg/schema"
	"bulkimport/pkg/store"
)

// sliceSource is a fixed, ordered entrysource.Source: every entry is tagged
// with the same suffix hint and handed out exactly once, in slice order.
type sliceSource struct {
	mu      sync.Mutex
	base    dn.Name
	entries []model.Entry
	i       int
}

func newSliceSource(base dn.Name, entries ...model.Entry) *sliceSource {
	return &sliceSource{base: base, entries: entries}
}

func (s *sliceSource) Next(ctx context.Context) (model.Entry, entrysource.SuffixHint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.entries) {
		return model.Entry{}, entrysource.SuffixHint{}, io.EOF
	}
	e := s.entries[s.i]
	s.i++
	return e, entrysource.SuffixHint{Base: s.base}, nil
}

type emptyRegistry struct{}

func (emptyRegistry) IndexerFor(string, indexkey.Kind) (schema.Indexer, bool) { return nil, false }
func (emptyRegistry) Attributes() []indexkey.IndexKey                        { return nil }

// presenceRegistry indexes one attribute's presence, for exercising the
// posting-list entry limit (E5).
type presenceRegistry struct{ attr string }

func (r presenceRegistry) IndexerFor(attribute string, kind indexkey.Kind) (schema.Indexer, bool) {
	if attribute != r.attr || kind != indexkey.PRESENCE {
		return nil, false
	}
	return schema.IndexerFunc(func(e model.Entry) [][]byte {
		if len(e.Values(r.attr)) == 0 {
			return nil
		}
		return [][]byte{[]byte("1")}
	}), true
}

func (r presenceRegistry) Attributes() []indexkey.IndexKey {
	return []indexkey.IndexKey{indexkey.Attr(r.attr, indexkey.PRESENCE)}
}

// equalityRegistry indexes one attribute's values for equality, for
// exercising append mode's duplicate/replace behavior against an existing
// container's posting lists (E7/E8).
type equalityRegistry struct{ attr string }

func (r equalityRegistry) IndexerFor(attribute string, kind indexkey.Kind) (schema.Indexer, bool) {
	if attribute != r.attr || kind != indexkey.EQUALITY {
		return nil, false
	}
	return schema.IndexerFunc(func(e model.Entry) [][]byte {
		var keys [][]byte
		for _, v := range e.Values(r.attr) {
			keys = append(keys, []byte(v))
		}
		return keys
	}), true
}

func (r equalityRegistry) Attributes() []indexkey.IndexKey {
	return []indexkey.IndexKey{indexkey.Attr(r.attr, indexkey.EQUALITY)}
}


func testConfig(t *testing.T, base dn.Name, opts ...config.Option) config.Config {
	t.Helper()
	base_ := append([]config.Option{
		config.WithSuffixBase(base),
		config.WithTempDirectory(t.TempDir()),
		config.WithThreadCount(1),
		config.WithMemoryBudget(256 << 20),
	}, opts...)
	cfg, err := config.Resolve(base_...)
	require.NoError(t, err)
	return cfg
}

func TestImportSmallTreeHappyPath(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")

	entries := []model.Entry{
		{Name: base},
		{Name: dn.Parse("a,o=x")},
		{Name: dn.Parse("b,o=x")},
		{Name: dn.Parse("c,a,o=x")},
	}
	source := newSliceSource(base, entries...)
	cfg := testConfig(t, base)

	summary, err := Import(ctx, cfg, st, source, emptyRegistry{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, summary.EntriesRead)
	assert.EqualValues(t, 4, summary.EntriesLoaded)
	assert.EqualValues(t, 0, summary.EntriesRejected)

	container, ok := st.Resolve(base.String())
	require.True(t, ok)
	trusted, err := st.IsIndexTrusted(container, indexkey.Naming())
	require.NoError(t, err)
	assert.True(t, trusted)
	trusted, err = st.IsIndexTrusted(container, indexkey.Children())
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestImportDuplicateNameRejected(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")

	source := newSliceSource(base, model.Entry{Name: base}, model.Entry{Name: base})
	cfg := testConfig(t, base)

	summary, err := Import(ctx, cfg, st, source, emptyRegistry{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.EntriesRead)
	assert.EqualValues(t, 1, summary.EntriesLoaded)
	assert.EqualValues(t, 1, summary.EntriesRejected)
}

func TestImportMissingParentRejectedAtIngest(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")

	source := newSliceSource(base, model.Entry{Name: base}, model.Entry{Name: dn.Parse("c,b,o=x")})
	cfg := testConfig(t, base)

	summary, err := Import(ctx, cfg, st, source, emptyRegistry{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.EntriesRead)
	assert.EqualValues(t, 1, summary.EntriesLoaded)
	assert.EqualValues(t, 1, summary.EntriesRejected)
}

func TestImportSkipValidationRejectsDanglingParentAtMerge(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")

	source := newSliceSource(base, model.Entry{Name: base}, model.Entry{Name: dn.Parse("c,b,o=x")})
	cfg := testConfig(t, base, config.WithSkipNameValidation(true))

	summary, err := Import(ctx, cfg, st, source, emptyRegistry{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.EntriesRead)
	assert.EqualValues(t, 1, summary.EntriesLoaded)
	assert.EqualValues(t, 1, summary.EntriesRejected)
}

func TestImportPostingListSpillsToUndefinedAtLimit(t *testing.T) {
	ctx := context.Background()
	presenceIndex := indexkey.Attr("mail", indexkey.PRESENCE)
	st := refstore.New(t.TempDir(), refstore.WithIndexLimit(presenceIndex, 3, true))
	base := dn.Parse("o=x")

	entries := []model.Entry{{Name: base}}
	for _, c := range []string{"a", "b", "c", "d"} {
		entries = append(entries, model.Entry{
			Name:       dn.Parse(c + ",o=x"),
			Attributes: map[string][]string{"mail": {c + "@example.com"}},
		})
	}
	source := newSliceSource(base, entries...)
	cfg := testConfig(t, base)

	summary, err := Import(ctx, cfg, st, source, presenceRegistry{attr: "mail"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, summary.EntriesRead)
	assert.EqualValues(t, 5, summary.EntriesLoaded)

	container, ok := st.Resolve(base.String())
	require.True(t, ok)
	cursor, err := st.Cursor(ctx, container, presenceIndex)
	require.NoError(t, err)
	defer cursor.Close()

	key, ids, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), key)
	assert.False(t, ids.IsDefined())
	assert.Equal(t, 4, ids.Size())
}

func TestImportPartialRebuildMigratesAroundIncludeBranch(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")

	origID, err := st.OpenContainer(ctx, base.String(), false)
	require.NoError(t, err)
	require.NoError(t, st.RegisterContainer(ctx, origID, base.String()))

	_, err = st.Seed(ctx, origID, []model.Entry{
		{Name: base},
		{Name: dn.Parse("a,o=x")},
		{Name: dn.Parse("b,a,o=x")},
		{Name: dn.Parse("d,a,o=x")},
		{Name: dn.Parse("e,d,a,o=x")},
		{Name: dn.Parse("c,o=x")},
	}, 1)
	require.NoError(t, err)

	// The rebuild only covers a,o=x (minus the excluded d,a,o=x subtree);
	// the source never re-supplies the suffix base itself or entries
	// outside the include branch, since those are migrated unchanged.
	source := newSliceSource(base,
		model.Entry{Name: dn.Parse("a,o=x")},
		model.Entry{Name: dn.Parse("b,a,o=x")},
		model.Entry{Name: dn.Parse("f,a,o=x")},
	)
	cfg := testConfig(t, base,
		config.WithIncludeBranches(dn.Parse("a,o=x")),
		config.WithExcludeBranches(dn.Parse("d,a,o=x")),
	)

	summary, err := Import(ctx, cfg, st, source, emptyRegistry{})
	require.NoError(t, err)
	assert.EqualValues(t, 7, summary.EntriesRead)
	assert.EqualValues(t, 7, summary.EntriesLoaded)
	assert.EqualValues(t, 0, summary.EntriesRejected)
	assert.EqualValues(t, 4, summary.EntriesMigrated)

	newID, ok := st.Resolve(base.String())
	require.True(t, ok)
	assert.NotEqual(t, origID, newID)

	_, err = st.IsIndexTrusted(origID, indexkey.Naming())
	assert.Error(t, err)

	trusted, err := st.IsIndexTrusted(newID, indexkey.Naming())
	require.NoError(t, err)
	assert.True(t, trusted)
}

// seedBuiltContainer opens and registers base as a container that some
// earlier import already fully built: both the Entries() snapshot append
// mode reads for duplicate/replace detection, and the actual naming and
// mail-equality index records a prior run would have left behind.
func seedBuiltContainer(t *testing.T, ctx context.Context, st *refstore.Store, base, childName dn.Name, childMail string, mailKey indexkey.IndexKey) (container store.ContainerID, baseID, childID baseid.EntryID) {
	t.Helper()

	container, err := st.OpenContainer(ctx, base.String(), false)
	require.NoError(t, err)
	require.NoError(t, st.RegisterContainer(ctx, container, base.String()))

	ids, err := st.Seed(ctx, container, []model.Entry{
		{Name: base},
		{Name: childName, Attributes: map[string][]string{"mail": {childMail}}},
	}, 1)
	require.NoError(t, err)
	baseID, childID = ids[0], ids[1]

	require.NoError(t, st.Put(ctx, container, indexkey.Naming(), dn.ToSortedBytes(base), baseID))
	require.NoError(t, st.Put(ctx, container, indexkey.Naming(), dn.ToSortedBytes(childName), childID))

	childSet := idset.New(st.IndexEntryLimit(mailKey), st.MaintainCount(mailKey))
	childSet.Add(childID)
	require.NoError(t, st.Insert(ctx, container, mailKey, []byte(childMail), childSet))

	return container, baseID, childID
}

func TestImportAppendRejectsDuplicateAgainstExistingContainer(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")
	mailKey := indexkey.Attr("mail", indexkey.EQUALITY)

	container, _, childID := seedBuiltContainer(t, ctx, st, base, dn.Parse("a,o=x"), "a@old.com", mailKey)

	source := newSliceSource(base,
		model.Entry{Name: dn.Parse("a,o=x"), Attributes: map[string][]string{"mail": {"a@new.com"}}},
		model.Entry{Name: dn.Parse("b,o=x")},
	)
	cfg := testConfig(t, base, config.WithAppendToExisting(true))

	summary, err := Import(ctx, cfg, st, source, equalityRegistry{attr: "mail"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.EntriesRead)
	assert.EqualValues(t, 1, summary.EntriesLoaded)
	assert.EqualValues(t, 1, summary.EntriesRejected)
	assert.True(t, summary.Swapped)

	resolved, ok := st.Resolve(base.String())
	require.True(t, ok)
	assert.Equal(t, container, resolved)

	// The rejected duplicate never touched the existing entry's posting:
	// a@old.com still maps to exactly the original child's EntryID.
	cursor, err := st.Cursor(ctx, container, mailKey)
	require.NoError(t, err)
	defer cursor.Close()
	key, ids, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("a@old.com"), key)
	require.True(t, ids.IsDefined())
	assert.Equal(t, []baseid.EntryID{childID}, ids.Members())

	// b,o=x is a genuinely new entry: it was admitted and linked into
	// CHILDREN(base) directly against the store, bypassing namingmerge's
	// full-tree ancestor-stack reconstruction (which an append never
	// supplies enough of the tree to drive).
	childrenCursor, err := st.Cursor(ctx, container, indexkey.Children())
	require.NoError(t, err)
	defer childrenCursor.Close()
	_, childIDs, ok, err := childrenCursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, childIDs.IsDefined())
	assert.Equal(t, 1, childIDs.Size())
}

func TestImportAppendReplacesExistingEntryWhenEnabled(t *testing.T) {
	ctx := context.Background()
	st := refstore.New(t.TempDir())
	base := dn.Parse("o=x")
	mailKey := indexkey.Attr("mail", indexkey.EQUALITY)

	container, _, childID := seedBuiltContainer(t, ctx, st, base, dn.Parse("a,o=x"), "a@old.com", mailKey)

	source := newSliceSource(base,
		model.Entry{Name: dn.Parse("a,o=x"), Attributes: map[string][]string{"mail": {"a@new.com"}}},
	)
	cfg := testConfig(t, base,
		config.WithAppendToExisting(true),
		config.WithReplaceExistingEntries(true),
	)

	summary, err := Import(ctx, cfg, st, source, equalityRegistry{attr: "mail"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.EntriesRead)
	assert.EqualValues(t, 1, summary.EntriesLoaded)
	assert.EqualValues(t, 0, summary.EntriesRejected)

	// The old value's posting is gone outright (not merely left stale)...
	oldCursor, err := st.Cursor(ctx, container, mailKey)
	require.NoError(t, err)
	defer oldCursor.Close()
	seen := map[string][]baseid.EntryID{}
	for {
		key, ids, ok, err := oldCursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[string(key)] = ids.Members()
	}
	assert.NotContains(t, seen, "a@old.com")
	require.Contains(t, seen, "a@new.com")
	assert.Equal(t, []baseid.EntryID{childID}, seen["a@new.com"])

	// ...and the replacement kept the original EntryID, so the naming
	// record is an overwrite rather than a second, orphaned entry.
	namingCursor, err := st.Cursor(ctx, container, indexkey.Naming())
	require.NoError(t, err)
	defer namingCursor.Close()
	count := 0
	for {
		_, _, ok, err := namingCursor.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}
