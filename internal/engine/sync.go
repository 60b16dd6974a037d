package engine

import (
	"context"
	"errors"

	"github.com/xtreamgames/xsync/internal/identity"
	"github.com/xtreamgames/xsync/internal/merge"
	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/store"
)

// fullSync pulls, merges, persists, pushes and records the sync time.
func (e *Engine) fullSync(ctx context.Context, trigger Trigger) (out Outcome) {
	out, ok := e.acquire(e.newOutcome(OpFullSync, trigger))
	if !ok {
		return out
	}
	defer e.release(&out)

	ident, err := e.ids.GetOrCreate()
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	var pullErr error
	snap, err := e.pull(ctx, ident)
	switch {
	case err == nil:
		stats, err := e.mergeRemote(snap.CollectionSet)
		if err != nil {
			return e.finish(out, StatusFailed, err)
		}
		out.Merge = stats
	case errors.Is(err, remote.ErrNotFound):
		e.logger.Printf("[%s] No remote snapshot for %s yet", shortID(out.RunID), ident.BlobName())
	default:
		pullErr = err
		e.logger.Printf("[%s] Pull failed, continuing local-only: %v", shortID(out.RunID), err)
	}

	blobID, n, err := e.push(ctx, ident)
	out.BlobID = blobID
	out.Records = n
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}
	// A degraded sync leaves the last sync time where it was.
	if pullErr != nil {
		return e.finish(out, StatusDegraded, pullErr)
	}
	if err := e.touchMetadata(); err != nil {
		return e.finish(out, StatusFailed, err)
	}
	return e.finish(out, StatusSucceeded, nil)
}

// pushOnly pushes the current local state without pulling first.
func (e *Engine) pushOnly(ctx context.Context, op Op, trigger Trigger) (out Outcome) {
	out, ok := e.acquire(e.newOutcome(op, trigger))
	if !ok {
		return out
	}
	defer e.release(&out)

	ident, err := e.ids.GetOrCreate()
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	blobID, n, err := e.push(ctx, ident)
	out.BlobID = blobID
	out.Records = n
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}
	if err := e.touchMetadata(); err != nil {
		return e.finish(out, StatusFailed, err)
	}
	return e.finish(out, StatusSucceeded, nil)
}

// restore pulls and merges without pushing.
func (e *Engine) restore(ctx context.Context) (out Outcome) {
	out, ok := e.acquire(e.newOutcome(OpRestore, TriggerManual))
	if !ok {
		return out
	}
	defer e.release(&out)

	ident, err := e.ids.GetOrCreate()
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	snap, err := e.pull(ctx, ident)
	if errors.Is(err, remote.ErrNotFound) {
		return e.finish(out, StatusNothingFound, nil)
	}
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	stats, err := e.mergeRemote(snap.CollectionSet)
	out.Merge = stats
	out.Records = snap.Len()
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}
	return e.finish(out, StatusSucceeded, nil)
}

// pull fetches and decodes the latest snapshot in the identity's namespace.
// Records without an id are dropped.
func (e *Engine) pull(ctx context.Context, ident identity.CloudIdentity) (record.Snapshot, error) {
	data, err := e.remote.GetLatest(ctx, ident.BlobName())
	if err != nil {
		return record.Snapshot{}, err
	}

	snap, err := record.DecodeSnapshot(data)
	if err != nil {
		return record.Snapshot{}, err
	}

	var dropped int
	snap.Primary, dropped = snap.Primary.Sanitize()
	if dropped > 0 {
		e.logger.Printf("Warning: dropped %d primary records without id from %s", dropped, snap.Device)
	}
	snap.Secondary, dropped = snap.Secondary.Sanitize()
	if dropped > 0 {
		e.logger.Printf("Warning: dropped %d secondary records without id from %s", dropped, snap.Device)
	}
	return snap, nil
}

// mergeRemote merges incoming into the local collections, persists the
// result when it changed and records the sync time.
func (e *Engine) mergeRemote(incoming record.CollectionSet) (merge.Stats, error) {
	e.localMu.Lock()
	defer e.localMu.Unlock()

	local, err := e.store.ReadSet()
	if err != nil {
		return merge.Stats{}, err
	}

	merged, stats := merge.MergeSet(local, incoming)
	if stats.Changed() {
		if err := e.store.WriteSet(merged); err != nil {
			return stats, err
		}
	}

	if err := e.touchMetadata(); err != nil {
		return stats, err
	}
	return stats, nil
}

// push sends the local collections as a new snapshot and keeps it as the
// local backup once the remote accepted it. Callers record the sync time.
func (e *Engine) push(ctx context.Context, ident identity.CloudIdentity) (string, int, error) {
	e.localMu.Lock()
	set, err := e.store.ReadSet()
	e.localMu.Unlock()
	if err != nil {
		return "", 0, err
	}

	snap := record.NewSnapshot(set, e.now(), e.config.Device)
	blobID, err := e.remote.Create(ctx, ident.BlobName(), snap)
	if err != nil {
		return "", set.Len(), err
	}

	if err := e.store.PutJSON(store.SlotBackup, snap); err != nil {
		return blobID, set.Len(), err
	}
	return blobID, set.Len(), nil
}

func (e *Engine) touchMetadata() error {
	return e.store.PutJSON(store.SlotLastSyncAt, Metadata{LastSyncAt: e.now().UTC()})
}
