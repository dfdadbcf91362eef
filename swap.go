package bulkimport

import (
	"context"
	"fmt"

	"bulkimport/pkg/store"
)

// containerResolver is the optional capability a store.Store implementation
// can provide to let the orchestrator look up which container a canonical
// name currently resolves to. store.Store itself carries no such method:
// nothing in Phase 1 or Phase 2 needs it, only the container-swap re-check
// below does, so it stays out of the core contract. pkg/refstore.Store
// satisfies this via its Resolve method.
type containerResolver interface {
	Resolve(canonicalName string) (store.ContainerID, bool)
}

func resolveCanonical(st store.Store, name string) (store.ContainerID, bool) {
	if r, ok := st.(containerResolver); ok {
		return r.Resolve(name)
	}
	return "", false
}

// SwapContainer finalizes a suffix rebuild that targeted a shadow container:
// it locks the original (if there is one), re-checks under lock that the
// canonical name still resolves to the expected original, then closes and
// deletes the original and registers the shadow in its place.
//
// If the re-check finds the name already resolves to something else — a
// concurrent unregister or another process's swap raced this one — the
// rebuild itself is not a failure: Phase 1 and Phase 2 already committed
// and the shadow's indexes are already marked trusted, only this suffix's
// canonical name keeps pointing at the original. SwapContainer restores the
// original by leaving it untouched, discards the now-unneeded shadow, and
// reports swapped=false with a nil error instead of failing the run.
func SwapContainer(ctx context.Context, st store.Store, canonicalName string, original store.ContainerID, hasOriginal bool, shadow store.ContainerID) (swapped bool, err error) {
	if !hasOriginal {
		if err := st.RegisterContainer(ctx, shadow, canonicalName); err != nil {
			return false, fmt.Errorf("registering %s: %w", canonicalName, err)
		}
		return true, nil
	}

	if err := st.LockContainer(ctx, original); err != nil {
		return false, fmt.Errorf("locking original %s for swap: %w", canonicalName, err)
	}

	if resolver, ok := st.(containerResolver); ok {
		if current, exists := resolver.Resolve(canonicalName); exists && current != original {
			_ = st.UnlockContainer(ctx, original)
			_ = st.CloseContainer(ctx, shadow)
			_ = st.DeleteContainer(ctx, shadow)
			return false, nil
		}
	}

	if err := st.CloseContainer(ctx, original); err != nil {
		_ = st.UnlockContainer(ctx, original)
		return false, fmt.Errorf("closing original %s: %w", canonicalName, err)
	}
	if err := st.DeleteContainer(ctx, original); err != nil {
		return false, fmt.Errorf("deleting original %s: %w", canonicalName, err)
	}
	if err := st.RegisterContainer(ctx, shadow, canonicalName); err != nil {
		return false, fmt.Errorf("registering shadow for %s: %w", canonicalName, err)
	}
	return true, nil
}
