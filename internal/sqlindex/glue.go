package sqlindex

import (
	"context"

	"github.com/calvinalkan/kvcore/internal/engine"
)

// RebuildFromEngine discards the mirror and repopulates it from a full
// Ascend scan of eng, stamping every row with eng's current
// next-sequence counter since the engine itself does not expose a
// per-key sequence once applied to the index (only the WAL record that
// produced it did). Only the advisory mirror cares about this kind of
// rebuild-at-any-time operation; eng.Get/Put/Delete never call this.
func RebuildFromEngine(ctx context.Context, idx *Index, eng *engine.Engine) error {
	if err := idx.Rebuild(ctx); err != nil {
		return err
	}

	sequence := eng.Stats().NextSequence

	var upsertErr error

	eng.Ascend(func(key, value []byte) bool {
		if upsertErr = idx.Upsert(ctx, key, len(value), sequence); upsertErr != nil {
			return false
		}

		return true
	})

	return upsertErr
}
