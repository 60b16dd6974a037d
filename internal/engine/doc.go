// Package engine provides the sync orchestrator that keeps the device's local
// collections replicated with the remote blob store.
//
// # Architecture
//
// The engine is an explicit object built once per process with its
// collaborators injected:
//
//   - LocalStore: the device-local slots (collections, identity, metadata, backup)
//   - remote.Client: create / latest / by-id against the blob store
//   - Identities: the cloud identity that names this device's blobs
//   - Observer: optional sink for sync events (the status dashboard)
//
// Connectivity is an event (SetOnline) and local writes are announced with
// OnLocalMutation. Nothing is read from ambient globals.
//
// # Triggers
//
//	online transition  -> full sync (background)
//	local mutation     -> push-only sync after the debounce window
//	periodic tick      -> full sync when online and idle
//	ManualSync         -> full sync, synchronous, rejected when busy or offline
//
// A full sync pulls the latest snapshot, merges it into the local collections
// with last-writer-wins, persists the result, pushes the merged state and
// records the sync time. A push-only sync skips the pull so that a debounced
// push cannot undo a restore that is still in flight; a remote update that
// lands between the last full sync and the debounced push is only picked up
// by the next full sync.
//
// # Single-flight
//
// At most one sync, restore, backup or share import runs at a time. The
// guard is an atomic flag cleared by defer on every exit path, so a failed
// or panicking operation never leaves the engine stuck in Syncing.
//
// # Failure policy
//
// Every caller-facing operation returns an Outcome instead of an error.
// Background triggers log their outcome and drop it. A failed pull degrades
// the sync to local-only and leaves local state and sync metadata untouched;
// a failed push leaves the merge that already happened in place.
//
// # Usage
//
//	eng, err := engine.New(engine.Deps{
//	    Store:    st,
//	    Remote:   client,
//	    Identity: identity.NewManager(st, store.SlotCloudIdentity),
//	}, engine.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	go eng.Start(ctx)
//
//	out := eng.ManualSync(ctx)
//	fmt.Println(out.Message())
package engine
