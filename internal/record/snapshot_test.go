package record

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	primary, _ := ParseCollection([]byte(`[{"id":"g1","updatedAt":"2024-01-01","name":"A"}]`))
	secondary, _ := ParseCollection([]byte(`[{"id":"m1","title":"Song"}]`))
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	snap := NewSnapshot(CollectionSet{Primary: primary, Secondary: secondary}, now, "laptop")
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	for _, key := range []string{`"games"`, `"musicPlaylist"`, `"syncVersion":"1.0"`, `"device":"laptop"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("payload %s missing %s", data, key)
		}
	}

	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot() failed: %v", err)
	}
	if !got.CollectionSet.Equal(snap.CollectionSet) {
		t.Error("collections changed in round trip")
	}
	if !got.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, now)
	}
}

func TestDecodeSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"not json", `nope`, ErrInvalidPayload},
		{"no games", `{"musicPlaylist":[]}`, ErrInvalidPayload},
		{"games not array", `{"games":{"id":"a"}}`, ErrInvalidPayload},
		{"games null", `{"games":null}`, ErrInvalidPayload},
		{"future major version", `{"games":[],"syncVersion":"2.0"}`, ErrIncompatibleVersion},
		{"garbage version", `{"games":[],"syncVersion":"banana"}`, ErrIncompatibleVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeSnapshot() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeSnapshot_MissingSecondary(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"games":[{"id":"a"}],"syncVersion":"1.3"}`))
	if err != nil {
		t.Fatalf("DecodeSnapshot() failed: %v", err)
	}
	if snap.Secondary == nil || len(snap.Secondary) != 0 {
		t.Errorf("Secondary = %v, want empty collection", snap.Secondary)
	}
}

func TestDecodeShareSnapshot(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	primary, _ := ParseCollection([]byte(`[{"id":"g1"}]`))
	data, err := json.Marshal(NewShareSnapshot(CollectionSet{Primary: primary}, now))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	got, err := DecodeShareSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeShareSnapshot() failed: %v", err)
	}
	if got.Source != ShareSource {
		t.Errorf("Source = %q, want %q", got.Source, ShareSource)
	}
	if len(got.Primary) != 1 || got.Primary[0].ID != "g1" {
		t.Errorf("Primary = %v", got.Primary.IDs())
	}
	if !got.SharedAt.Equal(now) {
		t.Errorf("SharedAt = %v, want %v", got.SharedAt, now)
	}
}

func TestCheckVersion(t *testing.T) {
	for _, v := range []string{"", "1.0", "1.5", "v1.0.2"} {
		if err := CheckVersion(v); err != nil {
			t.Errorf("CheckVersion(%q) = %v, want nil", v, err)
		}
	}
	for _, v := range []string{"0.9", "2.0", "x"} {
		if err := CheckVersion(v); !errors.Is(err, ErrIncompatibleVersion) {
			t.Errorf("CheckVersion(%q) = %v, want ErrIncompatibleVersion", v, err)
		}
	}
}

func TestDeviceTag(t *testing.T) {
	tag := DeviceTag()
	if tag == "" || len(tag) > 100 {
		t.Errorf("DeviceTag() = %q", tag)
	}
}
