package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtreamgames/xsync/internal/engine"
	"github.com/xtreamgames/xsync/internal/identity"
	"github.com/xtreamgames/xsync/internal/logging"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/store"
	"github.com/xtreamgames/xsync/internal/ui"
)

// app bundles the components every command needs.
type app struct {
	logs   *logging.Output
	store  *store.Store
	remote *remote.HTTPClient
	ids    *identity.Manager
	engine *engine.Engine
	closed bool
}

// openApp opens the local store and builds the engine. observer may be nil.
func openApp(observer engine.Observer) (*app, error) {
	logs, err := logging.New(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      cfg.Log.Quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		logs.Close()
		return nil, err
	}
	st.SetLogger(logs.Logger("store"))
	if cfg.Store.MaxValueBytes > 0 {
		st.SetMaxValueBytes(cfg.Store.MaxValueBytes)
	}
	if err := st.InitSchema(); err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}

	client, err := remote.NewHTTPClient(&remote.Config{
		BaseURL:      cfg.Remote.BaseURL,
		APIKey:       cfg.Remote.APIKey,
		Timeout:      cfg.Remote.Timeout,
		ScopeLatest:  cfg.Remote.ScopeLatest,
		Private:      cfg.Remote.Private,
		MaxBodyBytes: cfg.Remote.MaxBodyBytes,
		Logger:       logs.Logger("remote"),
	})
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}

	ids := identity.NewManager(st, store.SlotCloudIdentity)

	eng, err := engine.New(engine.Deps{
		Store:    st,
		Remote:   client,
		Identity: ids,
		Observer: observer,
	}, &engine.Config{
		Debounce:     cfg.Sync.Debounce,
		Interval:     cfg.Sync.Interval,
		InitialDelay: cfg.Sync.InitialDelay,
		StartOffline: cfg.Sync.Offline,
		ShareBaseURL: cfg.Share.BaseURL,
		Logger:       logs.Logger("engine"),
	})
	if err != nil {
		st.Close()
		logs.Close()
		return nil, err
	}

	return &app{logs: logs, store: st, remote: client, ids: ids, engine: eng}, nil
}

// mustOpenApp is openApp for commands that cannot continue without it.
func mustOpenApp(observer engine.Observer) *app {
	a, err := openApp(observer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

// Close stops the engine and releases the store. Later calls do nothing.
func (a *app) Close() {
	if a.closed {
		return
	}
	a.closed = true
	if err := a.engine.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to stop engine: %v\n", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
	a.logs.Close()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printer() *ui.Printer {
	return ui.Stdout(noColor)
}

// finishOutcome prints o and exits non-zero when it did not succeed.
// Deferred cleanups do not run after os.Exit, so callers close their app
// first.
func finishOutcome(a *app, o engine.Outcome) {
	printer().Outcome(o)
	a.Close()
	if !o.OK() {
		os.Exit(1)
	}
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
