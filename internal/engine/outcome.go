package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/xtreamgames/xsync/internal/merge"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/store"
)

// Op names the operation an Outcome reports on.
type Op string

const (
	OpFullSync    Op = "full-sync"
	OpPush        Op = "push"
	OpBackup      Op = "backup"
	OpRestore     Op = "restore"
	OpShareExport Op = "share-export"
	OpShareImport Op = "share-import"
)

// Trigger names what started an operation.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerPeriodic Trigger = "periodic"
	TriggerOnline   Trigger = "online"
	TriggerMutation Trigger = "mutation"
)

// Status is the tagged result of an operation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusOffline   Status = "offline"
	StatusBusy      Status = "busy"
	// StatusNothingFound means the remote store had no snapshot to restore.
	StatusNothingFound Status = "nothing-found"
	// StatusDegraded means the pull failed but the push succeeded.
	StatusDegraded Status = "degraded"
)

// Outcome is what every caller-facing operation resolves to.
type Outcome struct {
	RunID    string
	Op       Op
	Trigger  Trigger
	Status   Status
	Err      error
	BlobID   string
	ShareURL string
	Merge    merge.Stats
	Records  int
	Started  time.Time
	Finished time.Time
}

// OK reports whether the operation achieved its goal.
func (o Outcome) OK() bool {
	return o.Status == StatusSucceeded || o.Status == StatusNothingFound
}

// Duration returns how long the operation ran.
func (o Outcome) Duration() time.Duration {
	if o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Message renders the outcome as one line of status text.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusOffline:
		return "You are offline"
	case StatusBusy:
		return "A sync is already in progress"
	case StatusNothingFound:
		return "No cloud backup found"
	case StatusDegraded:
		return fmt.Sprintf("Backed up %d records, but the cloud copy could not be read: %s", o.Records, describe(o.Err))
	case StatusFailed:
		return fmt.Sprintf("%s failed: %s", opLabel(o.Op), describe(o.Err))
	}

	switch o.Op {
	case OpFullSync:
		return fmt.Sprintf("Sync complete! %d records (%d added, %d updated from cloud)", o.Records, o.Merge.Added, o.Merge.Replaced)
	case OpPush, OpBackup:
		return "Backup completed!"
	case OpRestore:
		return fmt.Sprintf("Restore completed! %d added, %d updated", o.Merge.Added, o.Merge.Replaced)
	case OpShareExport:
		if o.ShareURL != "" {
			return "Share link: " + o.ShareURL
		}
		return "Share id: " + o.BlobID
	case OpShareImport:
		return fmt.Sprintf("Loaded %d records from shared collection", o.Records)
	}
	return string(o.Status)
}

func opLabel(op Op) string {
	switch op {
	case OpFullSync:
		return "Sync"
	case OpPush, OpBackup:
		return "Backup"
	case OpRestore:
		return "Restore"
	case OpShareExport:
		return "Share export"
	case OpShareImport:
		return "Share import"
	}
	return string(op)
}

func describe(err error) string {
	if err == nil {
		return "unknown error"
	}

	var re *remote.RemoteError
	switch {
	case errors.Is(err, share.ErrInvalidReference):
		return "invalid share ID"
	case errors.Is(err, remote.ErrNotFound):
		return "not found"
	case errors.As(err, &re) && re.Reason == remote.ReasonNetwork:
		return "network unreachable"
	case store.IsStorageError(err):
		return "local storage error: " + err.Error()
	}
	return err.Error()
}

// EventType classifies observer events.
type EventType string

const (
	EventSyncStarted   EventType = "sync_started"
	EventSyncSucceeded EventType = "sync_succeeded"
	EventSyncFailed    EventType = "sync_failed"
	EventConnectivity  EventType = "connectivity"
	EventMutation      EventType = "mutation"
)

// Event is delivered to the Observer.
type Event struct {
	Type    EventType `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Op      Op        `json:"op,omitempty"`
	Trigger Trigger   `json:"trigger,omitempty"`
	Status  Status    `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Online  bool      `json:"online"`
	Slot    string    `json:"slot,omitempty"`
	Time    time.Time `json:"time"`
}

// Observer receives engine events. Implementations must not block.
type Observer interface {
	OnSyncEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnSyncEvent implements Observer.
func (f ObserverFunc) OnSyncEvent(ev Event) {
	f(ev)
}

// Observers delivers each event to every non-nil observer in order.
type Observers []Observer

// OnSyncEvent implements Observer.
func (obs Observers) OnSyncEvent(ev Event) {
	for _, o := range obs {
		if o != nil {
			o.OnSyncEvent(ev)
		}
	}
}

func resultEvent(o Outcome, online bool) Event {
	ev := Event{
		Type:    EventSyncSucceeded,
		RunID:   o.RunID,
		Op:      o.Op,
		Trigger: o.Trigger,
		Status:  o.Status,
		Message: o.Message(),
		Online:  online,
		Time:    o.Finished,
	}
	if !o.OK() {
		ev.Type = EventSyncFailed
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	return ev
}
