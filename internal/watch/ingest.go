package watch

import (
	"fmt"

	"github.com/xtreamgames/xsync/internal/merge"
	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/share"
)

// Updater applies a change to a local collection slot and announces the
// mutation. *engine.Engine satisfies it.
type Updater interface {
	UpdateLocal(slot string, fn func(record.Collection) (record.Collection, error)) error
}

// Ingest reads the inbox file behind ev and writes it into the event's slot.
// With share.PolicyReplace the file becomes the slot's content; with
// share.PolicyMerge it is merged by id, newest updatedAt winning.
// Invalid files are rejected without touching the slot.
func Ingest(u Updater, ev Event, policy share.Policy) (int, error) {
	policy, err := share.ParsePolicy(string(policy))
	if err != nil {
		return 0, fmt.Errorf("unknown inbox policy: %w", err)
	}

	incoming, err := record.ReadCollectionFile(ev.Path)
	if err != nil {
		return 0, err
	}
	if err := incoming.Validate(); err != nil {
		return 0, fmt.Errorf("invalid inbox file %s: %w", ev.Path, err)
	}

	err = u.UpdateLocal(ev.Slot, func(local record.Collection) (record.Collection, error) {
		switch policy {
		case share.PolicyReplace:
			return incoming, nil
		default:
			return merge.Merge(local, incoming), nil
		}
	})
	if err != nil {
		return 0, err
	}
	return len(incoming), nil
}
