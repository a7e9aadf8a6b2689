package bus

import (
	"context"
	"log/slog"

	"github.com/sedproject/sed/pkg/wire"
)

// sequence assigns or validates the consistency value for one submitted
// event. Implicit submissions take the next value for the key; explicit
// submissions are accepted only if they are exactly the next expected value.
//
// On acceptance the map is advanced and persisted to the document store.
// Persistence is best-effort: a failed save is logged but does not reject
// the event, so after a crash the bus may re-accept a value it has already
// handed out (at-least-once, locally consistent).
func (b *Bus) sequence(ctx context.Context, key wire.Key, incoming wire.Value) (uint32, bool) {
	current, seen := b.consistency[key]

	var next uint32
	if seen {
		next = current + 1
	}

	if v, explicit := incoming.Uint32(); explicit && v != next {
		slog.Warn("Inconsistent value for key", "key", key, "value", v, "expected", next)
		return v, false
	}

	b.consistency[key] = next
	if err := b.store.SaveConsistency(ctx, b.consistency); err != nil {
		slog.Warn("Failed to persist consistency map", "key", key, "error", err)
	}
	return next, true
}
