package share

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/remote/remotetest"
)

func rec(t *testing.T, id string, ts string, extra map[string]any) record.Record {
	t.Helper()
	var when time.Time
	if ts != "" {
		var err error
		when, err = time.Parse(time.RFC3339, ts)
		require.NoError(t, err)
	}
	r, err := record.New(id, when, extra)
	require.NoError(t, err)
	return r
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "bare id", ref: "65a1b2c3d4e5f60718293a4b", want: "65a1b2c3d4e5f60718293a4b"},
		{name: "bare id with whitespace", ref: "  65a1b2c3d4e5f607  \n", want: "65a1b2c3d4e5f607"},
		{name: "blob url", ref: "https://api.jsonbin.io/v3/b/65a1b2c3d4e5f607", want: "65a1b2c3d4e5f607"},
		{name: "viewer url", ref: "https://jsonbin.io/v/65a1b2c3d4e5f607", want: "65a1b2c3d4e5f607"},
		{name: "url without scheme", ref: "jsonbin.io/b/65a1b2c3d4e5f607", want: "65a1b2c3d4e5f607"},
		{name: "share link", ref: "https://games.example.com/index.html?share=65a1b2c3d4e5f607", want: "65a1b2c3d4e5f607"},
		{name: "share link with other params", ref: "https://x.example/?a=1&share=65a1b2c3d4e5f607&b=2", want: "65a1b2c3d4e5f607"},
		{name: "relative share query", ref: "?share=65a1b2c3d4e5f607", want: "65a1b2c3d4e5f607"},
		{name: "self-hosted blob url", ref: "http://localhost:8787/b/0123456789abcdef01234567", want: "0123456789abcdef01234567"},
		{name: "empty", ref: "   ", wantErr: true},
		{name: "too short", ref: "abc123", wantErr: true},
		{name: "exactly nine", ref: "abcdefghi", wantErr: true},
		{name: "exactly ten", ref: "abcdefghij", want: "abcdefghij"},
		{name: "short share param", ref: "https://x.example/?share=abc", wantErr: true},
		{name: "url without id", ref: "https://example.com/collections", wantErr: true},
		{name: "non alphanumeric", ref: "abcdefghij-klm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReference(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Merge")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	p, err = ParsePolicy(" replace ")
	require.NoError(t, err)
	assert.Equal(t, PolicyReplace, p)

	_, err = ParsePolicy("append")
	assert.Error(t, err)
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "", BuildURL("", "abc"))
	assert.Equal(t, "https://games.example.com/?share=abc", BuildURL("https://games.example.com/", "abc"))
	assert.Equal(t, "https://x.example/p?mode=1&share=abc", BuildURL("https://x.example/p?mode=1", "abc"))
}

func TestExportImport_RoundTrip(t *testing.T) {
	fake := remotetest.New()
	s := New(fake, "https://games.example.com/")
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	set := record.CollectionSet{
		Primary: record.Collection{
			rec(t, "g1", "2024-01-01T00:00:00Z", map[string]any{"title": "Tetris", "tags": []string{"puzzle"}}),
			rec(t, "g2", "", map[string]any{"title": "Doom"}),
		},
		Secondary: record.Collection{rec(t, "m1", "2024-02-01T00:00:00Z", map[string]any{"url": "https://music.example/1"})},
	}

	link, err := s.Export(context.Background(), set)
	require.NoError(t, err)
	require.NotEmpty(t, link.ID)
	assert.Equal(t, "https://games.example.com/?share="+link.ID, link.URL)

	blobs := fake.Blobs()
	require.Len(t, blobs, 1)
	assert.Equal(t, BlobName, blobs[0].Name)
	assert.Contains(t, string(blobs[0].Payload), `"source":"Xtream Games Share"`)
	assert.Contains(t, string(blobs[0].Payload), `"sharedAt":"2024-05-01T12:00:00Z"`)

	got, err := s.Import(context.Background(), link.URL)
	require.NoError(t, err)
	assert.True(t, got.Equal(set), "imported set differs from exported set")

	// Importing into an empty device with merge yields exactly the export.
	applied, err := Apply(record.CollectionSet{}, got, PolicyMerge)
	require.NoError(t, err)
	assert.True(t, applied.Primary.Equal(set.Primary))
	assert.True(t, applied.Secondary.Equal(set.Secondary))
}

func TestImport_InvalidReferenceMakesNoCall(t *testing.T) {
	fake := remotetest.New()
	s := New(fake, "")

	_, err := s.Import(context.Background(), "short")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Zero(t, fake.Total())
}

func TestImport_InvalidPayload(t *testing.T) {
	fake := remotetest.New()
	id := fake.Seed(BlobName, map[string]any{"musicPlaylist": []any{}})
	s := New(fake, "")

	_, err := s.Import(context.Background(), id)
	assert.ErrorIs(t, err, record.ErrInvalidPayload)
}

func TestImport_NotFound(t *testing.T) {
	s := New(remotetest.New(), "")
	_, err := s.Import(context.Background(), "0123456789abcdef")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestExport_RemoteFailure(t *testing.T) {
	fake := remotetest.New()
	fake.CreateErr = &remote.RemoteError{Op: "create", Reason: remote.ReasonHTTPStatus, StatusCode: 500, Err: errors.New("boom")}
	s := New(fake, "")

	_, err := s.Export(context.Background(), record.CollectionSet{})
	var re *remote.RemoteError
	assert.ErrorAs(t, err, &re)
}

func TestApply(t *testing.T) {
	local := record.CollectionSet{
		Primary: record.Collection{
			rec(t, "a", "2024-01-01T00:00:00Z", map[string]any{"v": "local"}),
			rec(t, "b", "2024-01-01T00:00:00Z", nil),
		},
		Secondary: record.Collection{rec(t, "m-local", "", nil)},
	}
	shared := record.CollectionSet{
		Primary: record.Collection{
			rec(t, "a", "2024-06-01T00:00:00Z", map[string]any{"v": "shared"}),
			rec(t, "c", "", nil),
		},
		Secondary: record.Collection{},
	}

	t.Run("merge", func(t *testing.T) {
		out, err := Apply(local, shared, PolicyMerge)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, out.Primary.IDs())
		a, _ := out.Primary.Get("a")
		v, _ := a.Field("v")
		assert.JSONEq(t, `"shared"`, string(v))
		assert.Equal(t, []string{"m-local"}, out.Secondary.IDs(), "empty shared secondary keeps local")
	})

	t.Run("replace", func(t *testing.T) {
		out, err := Apply(local, shared, PolicyReplace)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, out.Primary.IDs())
		assert.Equal(t, []string{"m-local"}, out.Secondary.IDs())
	})

	t.Run("policy names are case-insensitive", func(t *testing.T) {
		out, err := Apply(local, shared, Policy("Replace"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, out.Primary.IDs())

		out, err = Apply(local, shared, Policy(" MERGE "))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, out.Primary.IDs())
	})

	t.Run("unknown policy", func(t *testing.T) {
		for _, p := range []Policy{"", "overwrite"} {
			_, err := Apply(local, shared, p)
			assert.Error(t, err, "policy %q", p)
		}
	})

	t.Run("non-empty shared secondary replaces local", func(t *testing.T) {
		withMusic := shared
		withMusic.Secondary = record.Collection{rec(t, "m-shared", "", nil)}
		for _, p := range []Policy{PolicyMerge, PolicyReplace} {
			out, err := Apply(local, withMusic, p)
			require.NoError(t, err)
			assert.Equal(t, []string{"m-shared"}, out.Secondary.IDs(), "policy %s", p)
		}
	})

	t.Run("inputs untouched", func(t *testing.T) {
		before := local.Primary.IDs()
		_, err := Apply(local, shared, PolicyMerge)
		require.NoError(t, err)
		assert.Equal(t, before, local.Primary.IDs())
	})
}
