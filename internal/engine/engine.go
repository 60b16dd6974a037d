package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtreamgames/xsync/internal/identity"
	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/store"
)

// LocalStore is the device-local storage the engine reads and writes.
// *store.Store satisfies it.
type LocalStore interface {
	ReadSet() (record.CollectionSet, error)
	WriteSet(set record.CollectionSet) error
	GetJSON(name string, v any) (bool, error)
	PutJSON(name string, v any) error
}

// Identities hands out the device's cloud identity.
// *identity.Manager satisfies it.
type Identities interface {
	GetOrCreate() (identity.CloudIdentity, error)
	Current() (identity.CloudIdentity, bool, error)
}

// Deps are the engine's collaborators. Observer is optional.
type Deps struct {
	Store    LocalStore
	Remote   remote.Client
	Identity Identities
	Observer Observer
}

// Config holds configuration for the engine.
type Config struct {
	// Debounce is the quiet period after the last local mutation before a
	// push-only sync runs.
	Debounce time.Duration

	// Interval is how often Start runs a full sync.
	Interval time.Duration

	// InitialDelay is how long Start waits before the first full sync.
	// Negative disables the initial sync.
	InitialDelay time.Duration

	// StartOffline makes the engine start in the offline state.
	StartOffline bool

	// Device tags pushed snapshots (default: host name and platform).
	Device string

	// ShareBaseURL is the page share links point at. Empty yields bare ids.
	ShareBaseURL string

	// Logger for engine activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:     2 * time.Second,
		Interval:     5 * time.Minute,
		InitialDelay: 5 * time.Second,
		Device:       record.DeviceTag(),
		Logger:       log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// State is the orchestrator state.
type State int

const (
	Idle State = iota
	Syncing
)

func (s State) String() string {
	if s == Syncing {
		return "syncing"
	}
	return "idle"
}

// Metadata is the local-only record of the last successful sync.
type Metadata struct {
	LastSyncAt time.Time `json:"lastSyncAt"`
}

// StatusReport is a point-in-time view for the presentation layer.
type StatusReport struct {
	State      State     `json:"state"`
	Online     bool      `json:"online"`
	LastSyncAt time.Time `json:"last_sync_at"`
	CloudID    string    `json:"cloud_id,omitempty"`
}

// Engine orchestrates sync between local slots and the remote store.
type Engine struct {
	store    LocalStore
	remote   remote.Client
	ids      Identities
	sharer   *share.Sharer
	observer Observer
	config   *Config
	logger   *log.Logger
	now      func() time.Time

	online  atomic.Bool
	syncing atomic.Bool

	// localMu serializes read-modify-write cycles on the local collections.
	localMu sync.Mutex

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	debounceGen   uint64

	started atomic.Bool
	stopMu  sync.Mutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. A nil config uses DefaultConfig; zero durations
// fall back to their defaults.
func New(deps Deps, config *Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Remote == nil {
		return nil, fmt.Errorf("remote client cannot be nil")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity manager cannot be nil")
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Device == "" {
		cfg.Device = defaults.Device
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:    deps.Store,
		remote:   deps.Remote,
		ids:      deps.Identity,
		sharer:   share.New(deps.Remote, cfg.ShareBaseURL),
		observer: deps.Observer,
		config:   &cfg,
		logger:   cfg.Logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
	e.online.Store(!cfg.StartOffline)
	return e, nil
}

// Start runs the periodic sync loop.
//
// The first full sync runs after InitialDelay, then every Interval while the
// engine is online and idle. This blocks until ctx is cancelled or Stop is
// called.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already started")
	}

	e.logger.Printf("Starting sync engine (interval %s, debounce %s)", e.config.Interval, e.config.Debounce)

	if !e.goBackground(e.runPeriodic) {
		return ErrStopped
	}

	select {
	case <-ctx.Done():
		e.logger.Println("Shutdown signal received")
		return e.Stop()
	case <-e.ctx.Done():
		return nil
	}
}

// Stop cancels pending debounce and periodic timers and waits for in-flight
// background operations. Safe to call more than once.
func (e *Engine) Stop() error {
	e.stopMu.Lock()
	if e.stopped {
		e.stopMu.Unlock()
		return nil
	}
	e.stopped = true
	e.stopMu.Unlock()

	e.logger.Println("Stopping sync engine")

	e.cancel()
	e.cancelDebounce()
	e.wg.Wait()

	e.logger.Println("Sync engine stopped")
	return nil
}

// SetOnline records a connectivity transition. Going online triggers a
// background full sync; going offline drops any pending debounced push.
func (e *Engine) SetOnline(online bool) {
	if prev := e.online.Swap(online); prev == online {
		return
	}

	e.emit(Event{Type: EventConnectivity, Online: online, Time: e.now()})

	if !online {
		e.logger.Println("Offline - working locally")
		e.cancelDebounce()
		return
	}

	e.logger.Println("Online - auto-syncing")
	e.goBackground(func(ctx context.Context) {
		e.logOutcome(e.fullSync(ctx, TriggerOnline))
	})
}

// Online reports the current connectivity state.
func (e *Engine) Online() bool {
	return e.online.Load()
}

// State reports whether a sync is running.
func (e *Engine) State() State {
	if e.syncing.Load() {
		return Syncing
	}
	return Idle
}

// OnLocalMutation announces that slot was written locally. While online it
// (re)schedules a push-only sync after the debounce window; only the last
// notification in a burst results in a push.
func (e *Engine) OnLocalMutation(slot string) {
	e.emit(Event{Type: EventMutation, Slot: slot, Online: e.online.Load(), Time: e.now()})

	if !e.online.Load() || e.ctx.Err() != nil {
		return
	}

	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	e.debounceGen++
	gen := e.debounceGen
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceTimer = time.AfterFunc(e.config.Debounce, func() {
		e.fireDebounce(gen)
	})
}

// UpdateLocal applies fn to the collection in slot under the engine's local
// lock, persists the result and announces the mutation.
func (e *Engine) UpdateLocal(slot string, fn func(record.Collection) (record.Collection, error)) error {
	e.localMu.Lock()
	set, err := e.store.ReadSet()
	if err != nil {
		e.localMu.Unlock()
		return err
	}

	var target *record.Collection
	switch slot {
	case store.SlotPrimary:
		target = &set.Primary
	case store.SlotSecondary:
		target = &set.Secondary
	default:
		e.localMu.Unlock()
		return fmt.Errorf("unknown collection slot %q", slot)
	}

	updated, err := fn(*target)
	if err != nil {
		e.localMu.Unlock()
		return err
	}
	if err := updated.Validate(); err != nil {
		e.localMu.Unlock()
		return err
	}
	*target = updated

	if err := e.store.WriteSet(set); err != nil {
		e.localMu.Unlock()
		return err
	}
	e.localMu.Unlock()

	e.OnLocalMutation(slot)
	return nil
}

// Status returns the current state, connectivity, last sync time and cloud id.
func (e *Engine) Status() (StatusReport, error) {
	report := StatusReport{State: e.State(), Online: e.online.Load()}

	var meta Metadata
	if _, err := e.store.GetJSON(store.SlotLastSyncAt, &meta); err != nil {
		return report, err
	}
	report.LastSyncAt = meta.LastSyncAt

	ident, ok, err := e.ids.Current()
	if err != nil {
		return report, err
	}
	if ok {
		report.CloudID = ident.ID
	}
	return report, nil
}

// ManualSync runs a full sync and waits for it. It is rejected, not queued,
// when offline or when another sync is running.
func (e *Engine) ManualSync(ctx context.Context) Outcome {
	return e.fullSync(ctx, TriggerManual)
}

// AutoSyncTick is the periodic body: a full sync when online and idle.
func (e *Engine) AutoSyncTick(ctx context.Context) Outcome {
	return e.fullSync(ctx, TriggerPeriodic)
}

// Backup pushes the local collections without pulling.
func (e *Engine) Backup(ctx context.Context) Outcome {
	return e.pushOnly(ctx, OpBackup, TriggerManual)
}

// Restore pulls the latest snapshot and merges it into the local collections
// without pushing.
func (e *Engine) Restore(ctx context.Context) Outcome {
	return e.restore(ctx)
}

func (e *Engine) runPeriodic(ctx context.Context) {
	if e.config.InitialDelay >= 0 {
		timer := time.NewTimer(e.config.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.tick(ctx)
		}
	}

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if !e.online.Load() || e.syncing.Load() {
		return
	}
	e.logOutcome(e.AutoSyncTick(ctx))
}

func (e *Engine) fireDebounce(gen uint64) {
	e.debounceMu.Lock()
	if gen != e.debounceGen {
		e.debounceMu.Unlock()
		return
	}
	e.debounceTimer = nil
	e.debounceMu.Unlock()

	e.goBackground(func(ctx context.Context) {
		out := e.pushOnly(ctx, OpPush, TriggerMutation)
		if out.Status == StatusBusy {
			e.logger.Println("Skipping debounced push: sync in progress")
			return
		}
		e.logOutcome(out)
	})
}

func (e *Engine) cancelDebounce() {
	e.debounceMu.Lock()
	defer e.debounceMu.Unlock()

	e.debounceGen++
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
}

// goBackground runs fn on a tracked goroutine with the engine context.
// It reports false once Stop has been called.
func (e *Engine) goBackground(fn func(ctx context.Context)) bool {
	e.stopMu.Lock()
	if e.stopped {
		e.stopMu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.stopMu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
	return true
}

func (e *Engine) emit(ev Event) {
	if e.observer == nil {
		return
	}
	e.observer.OnSyncEvent(ev)
}

func (e *Engine) logOutcome(out Outcome) {
	switch out.Status {
	case StatusOffline, StatusBusy:
		return
	case StatusSucceeded, StatusNothingFound:
		e.logger.Printf("[%s] %s (%s) %s in %s", shortID(out.RunID), out.Op, out.Trigger, out.Status, out.Duration().Round(time.Millisecond))
	default:
		e.logger.Printf("[%s] %s (%s) %s: %v", shortID(out.RunID), out.Op, out.Trigger, out.Status, out.Err)
	}
}

func (e *Engine) newOutcome(op Op, trigger Trigger) Outcome {
	return Outcome{RunID: uuid.NewString(), Op: op, Trigger: trigger, Started: e.now()}
}

func (e *Engine) finish(out Outcome, status Status, err error) Outcome {
	out.Status = status
	out.Err = err
	out.Finished = e.now()
	return out
}

// acquire checks connectivity and takes the single-flight guard. When it
// returns false the outcome is final.
func (e *Engine) acquire(out Outcome) (Outcome, bool) {
	if !e.online.Load() {
		return e.finish(out, StatusOffline, ErrOffline), false
	}
	if !e.syncing.CompareAndSwap(false, true) {
		return e.finish(out, StatusBusy, ErrBusy), false
	}

	e.emit(Event{
		Type:    EventSyncStarted,
		RunID:   out.RunID,
		Op:      out.Op,
		Trigger: out.Trigger,
		Online:  true,
		Time:    out.Started,
	})
	return out, true
}

// release clears the single-flight guard and reports the result.
func (e *Engine) release(out *Outcome) {
	if r := recover(); r != nil {
		*out = e.finish(*out, StatusFailed, fmt.Errorf("panic during %s: %v", out.Op, r))
	}
	e.syncing.Store(false)
	e.emit(resultEvent(*out, e.online.Load()))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
