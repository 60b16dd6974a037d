package engine

import (
	"context"

	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/store"
)

// ExportSnapshot publishes the local collections as a share snapshot. It
// does not touch the cloud identity and does not take the sync guard.
func (e *Engine) ExportSnapshot(ctx context.Context) Outcome {
	out := e.newOutcome(OpShareExport, TriggerManual)
	if !e.online.Load() {
		return e.finish(out, StatusOffline, ErrOffline)
	}

	e.localMu.Lock()
	set, err := e.store.ReadSet()
	e.localMu.Unlock()
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	link, err := e.sharer.Export(ctx, set)
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	out.BlobID = link.ID
	out.ShareURL = link.URL
	out.Records = set.Len()
	e.logger.Printf("[%s] Exported %d records as share %s", shortID(out.RunID), out.Records, link.ID)
	return e.finish(out, StatusSucceeded, nil)
}

// ImportSnapshot fetches a shared snapshot and applies it to the local
// collections with policy. A malformed reference fails before any network
// call. A successful import is announced as a local mutation so the result
// is pushed after the debounce window.
func (e *Engine) ImportSnapshot(ctx context.Context, ref string, policy share.Policy) Outcome {
	out := e.importSnapshot(ctx, ref, policy)
	if out.Status == StatusSucceeded {
		e.OnLocalMutation(store.SlotPrimary)
	}
	return out
}

func (e *Engine) importSnapshot(ctx context.Context, ref string, policy share.Policy) (out Outcome) {
	out = e.newOutcome(OpShareImport, TriggerManual)

	id, err := share.ParseReference(ref)
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}
	policy, err = share.ParsePolicy(string(policy))
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	out, ok := e.acquire(out)
	if !ok {
		return out
	}
	defer e.release(&out)

	shared, err := e.sharer.Import(ctx, id)
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}

	e.localMu.Lock()
	defer e.localMu.Unlock()

	local, err := e.store.ReadSet()
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}
	applied, err := share.Apply(local, shared, policy)
	if err != nil {
		return e.finish(out, StatusFailed, err)
	}
	if err := e.store.WriteSet(applied); err != nil {
		return e.finish(out, StatusFailed, err)
	}

	out.BlobID = id
	out.Records = len(shared.Primary)
	e.logger.Printf("[%s] Imported %d records from share %s (%s)", shortID(out.RunID), out.Records, id, policy)
	return e.finish(out, StatusSucceeded, nil)
}
