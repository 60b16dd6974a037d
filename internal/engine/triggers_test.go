package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtreamgames/xsync/internal/identity"
	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/store"
)

func TestDebounce_CoalescesBurst(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Debounce = 50 * time.Millisecond })

	for i := 0; i < 10; i++ {
		h.engine.OnLocalMutation(store.SlotPrimary)
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		creates, _, _ := h.remote.Calls()
		return creates == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	creates, latests, _ := h.remote.Calls()
	assert.Equal(t, 1, creates, "a burst must produce exactly one push")
	assert.Zero(t, latests, "debounced sync is push-only")
}

func TestDebounce_ResetsTimer(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Debounce = 80 * time.Millisecond })

	start := time.Now()
	h.engine.OnLocalMutation(store.SlotPrimary)
	time.Sleep(50 * time.Millisecond)
	h.engine.OnLocalMutation(store.SlotSecondary)

	require.Eventually(t, func() bool { return h.remote.Total() == 1 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond, "push fired before the quiet period after the last mutation")
}

func TestDebounce_SeparateBursts(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.OnLocalMutation(store.SlotPrimary)
	require.Eventually(t, func() bool { return h.remote.Total() == 1 }, time.Second, 5*time.Millisecond)

	h.engine.OnLocalMutation(store.SlotPrimary)
	require.Eventually(t, func() bool { return h.remote.Total() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebounce_SkippedWhileSyncing(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Debounce = 20 * time.Millisecond })
	h.remote.Block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.engine.ManualSync(context.Background())
	}()
	require.Eventually(t, func() bool { return h.engine.State() == Syncing }, time.Second, time.Millisecond)

	h.engine.OnLocalMutation(store.SlotPrimary)
	time.Sleep(100 * time.Millisecond)

	close(h.remote.Block)
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	creates, _, _ := h.remote.Calls()
	assert.Equal(t, 1, creates, "debounced push must be skipped while a sync is in progress")
}

func TestSetOnline(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.StartOffline = true })
	assert.False(t, h.engine.Online())

	h.engine.SetOnline(true)
	require.Eventually(t, func() bool {
		creates, latests, _ := h.remote.Calls()
		return creates == 1 && latests == 1
	}, time.Second, 5*time.Millisecond, "going online must trigger a full sync")

	// Repeating the same state is not a transition.
	h.engine.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.remote.Total())

	types := h.events.types()
	require.NotEmpty(t, types)
	assert.Equal(t, EventConnectivity, types[0])
}

func TestSetOffline_CancelsPendingPush(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Debounce = 50 * time.Millisecond })

	h.engine.OnLocalMutation(store.SlotPrimary)
	h.engine.SetOnline(false)
	time.Sleep(150 * time.Millisecond)

	assert.Zero(t, h.remote.Total())
}

func TestStart_PeriodicSync(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.InitialDelay = 10 * time.Millisecond
		c.Interval = 40 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, latests, _ := h.remote.Calls()
		return latests >= 3
	}, 2*time.Second, 5*time.Millisecond, "expected initial sync plus periodic ticks")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	after := h.remote.Total()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, after, h.remote.Total(), "no syncs after stop")
}

func TestStart_PeriodicSkipsWhenOffline(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.StartOffline = true
		c.InitialDelay = 0
		c.Interval = 20 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.engine.Start(ctx)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.remote.Total())
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.engine.Start(ctx)
	require.Eventually(t, func() bool { return h.engine.started.Load() }, time.Second, time.Millisecond)
	assert.Error(t, h.engine.Start(ctx))
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.engine.OnLocalMutation(store.SlotPrimary)
	require.NoError(t, h.engine.Stop())
	require.NoError(t, h.engine.Stop())

	h.engine.OnLocalMutation(store.SlotPrimary)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.remote.Total(), "no pushes after stop")

	assert.ErrorIs(t, h.engine.Start(context.Background()), ErrStopped)
}

func TestShare_RoundTripIntoEmptyDevice(t *testing.T) {
	exporter := newHarness(t, func(c *Config) { c.ShareBaseURL = "https://games.example.com/" })
	x := record.CollectionSet{
		Primary: record.Collection{
			rec(t, "g1", "2024-01-01T00:00:00Z", map[string]any{"title": "Tetris"}),
			rec(t, "g2", "", map[string]any{"title": "Doom", "rating": 5}),
		},
		Secondary: record.Collection{rec(t, "m1", "", map[string]any{"src": "a.mp3"})},
	}
	exporter.store.seed(x)

	exported := exporter.engine.ExportSnapshot(context.Background())
	require.Equal(t, StatusSucceeded, exported.Status, "err: %v", exported.Err)
	assert.Equal(t, 3, exported.Records)
	assert.Equal(t, "https://games.example.com/?share="+exported.BlobID, exported.ShareURL)

	blobs := exporter.remote.Blobs()
	require.Len(t, blobs, 1)
	assert.Equal(t, share.BlobName, blobs[0].Name)

	// The importing device talks to the same remote store.
	importer := newHarness(t, nil)
	importer.engine.remote = exporter.remote
	importer.engine.sharer = share.New(exporter.remote, "")

	imported := importer.engine.ImportSnapshot(context.Background(), exported.ShareURL, share.PolicyMerge)
	require.Equal(t, StatusSucceeded, imported.Status, "err: %v", imported.Err)
	assert.Equal(t, 2, imported.Records)

	local, _ := importer.store.ReadSet()
	assert.True(t, local.Equal(x), "import of an export into an empty device must reproduce it")
	assert.Contains(t, importer.events.types(), EventMutation)
}

func TestImportSnapshot_Replace(t *testing.T) {
	h := newHarness(t, nil)
	h.store.seed(record.CollectionSet{
		Primary:   record.Collection{rec(t, "mine", "2030-01-01T00:00:00Z", nil)},
		Secondary: record.Collection{rec(t, "my-song", "", nil)},
	})
	id := h.remote.Seed(share.BlobName, record.NewShareSnapshot(record.CollectionSet{
		Primary: record.Collection{rec(t, "theirs", "", nil)},
	}, time.Now()))

	out := h.engine.ImportSnapshot(context.Background(), id, share.PolicyReplace)
	require.Equal(t, StatusSucceeded, out.Status, "err: %v", out.Err)

	local, _ := h.store.ReadSet()
	assert.Equal(t, []string{"theirs"}, local.Primary.IDs())
	assert.Equal(t, []string{"my-song"}, local.Secondary.IDs(), "empty shared secondary keeps local")
}

func TestImportSnapshot_PolicyNameIsCaseInsensitive(t *testing.T) {
	tests := []struct {
		policy share.Policy
		want   []string
	}{
		{share.Policy("Replace"), []string{"theirs"}},
		{share.Policy(" REPLACE "), []string{"theirs"}},
		{share.Policy("Merge"), []string{"mine", "theirs"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, nil)
			h.store.seed(record.CollectionSet{
				Primary:   record.Collection{rec(t, "mine", "2030-01-01T00:00:00Z", nil)},
				Secondary: record.Collection{},
			})
			id := h.remote.Seed(share.BlobName, record.NewShareSnapshot(record.CollectionSet{
				Primary: record.Collection{rec(t, "theirs", "", nil)},
			}, time.Now()))

			out := h.engine.ImportSnapshot(context.Background(), id, tt.policy)
			require.Equal(t, StatusSucceeded, out.Status, "err: %v", out.Err)

			local, _ := h.store.ReadSet()
			assert.Equal(t, tt.want, local.Primary.IDs())
		})
	}
}

func TestImportSnapshot_InvalidReference(t *testing.T) {
	h := newHarness(t, nil)

	out := h.engine.ImportSnapshot(context.Background(), "short", share.PolicyMerge)
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, share.ErrInvalidReference)
	assert.Zero(t, h.remote.Total())
	assert.Empty(t, h.events.types(), "rejected references never start a sync")

	out = h.engine.ImportSnapshot(context.Background(), "0123456789abcdef", share.Policy("append"))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Zero(t, h.remote.Total())
}

func TestImportSnapshot_InvalidPayload(t *testing.T) {
	h := newHarness(t, nil)
	id := h.remote.Seed(share.BlobName, map[string]any{"hello": "world"})

	out := h.engine.ImportSnapshot(context.Background(), id, share.PolicyMerge)
	assert.Equal(t, StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, record.ErrInvalidPayload)

	local, _ := h.store.ReadSet()
	assert.Empty(t, local.Primary)
}

func TestExportSnapshot_DoesNotTouchIdentity(t *testing.T) {
	st := newMemStore()
	ids := identity.NewManager(st, store.SlotCloudIdentity)
	h := newHarness(t, nil)
	h.engine.ids = ids

	out := h.engine.ExportSnapshot(context.Background())
	require.Equal(t, StatusSucceeded, out.Status)

	_, ok, err := ids.Current()
	require.NoError(t, err)
	assert.False(t, ok, "export must not create a cloud identity")
}
