package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// SyncVersion is the payload format version written into every snapshot.
const SyncVersion = "1.0"

// ShareSource tags snapshots produced by share export.
const ShareSource = "Xtream Games Share"

const maxDeviceTagLen = 100

var (
	// ErrInvalidPayload is returned when a remote payload does not carry a
	// primary collection array.
	ErrInvalidPayload = errors.New("invalid snapshot payload")

	// ErrIncompatibleVersion is returned when a snapshot was written by an
	// engine with a different major sync version.
	ErrIncompatibleVersion = errors.New("incompatible snapshot version")
)

// CollectionSet holds both domain collections of a device.
type CollectionSet struct {
	Primary   Collection `json:"games"`
	Secondary Collection `json:"musicPlaylist"`
}

// Len returns the total number of records across both collections.
func (s CollectionSet) Len() int {
	return len(s.Primary) + len(s.Secondary)
}

// Equal reports whether both collections are equal.
func (s CollectionSet) Equal(other CollectionSet) bool {
	return s.Primary.Equal(other.Primary) && s.Secondary.Equal(other.Secondary)
}

// Snapshot is the unit pushed to and pulled from the remote store.
type Snapshot struct {
	CollectionSet
	SyncVersion string    `json:"syncVersion"`
	Timestamp   time.Time `json:"timestamp"`
	Device      string    `json:"device"`
}

// NewSnapshot stamps a collection set with the current version, time and device tag.
func NewSnapshot(set CollectionSet, now time.Time, device string) Snapshot {
	return Snapshot{
		CollectionSet: set,
		SyncVersion:   SyncVersion,
		Timestamp:     now.UTC(),
		Device:        truncate(device, maxDeviceTagLen),
	}
}

// ShareSnapshot is a standalone export that is not tied to a cloud identity.
type ShareSnapshot struct {
	CollectionSet
	SharedAt time.Time `json:"sharedAt"`
	Source   string    `json:"source"`
}

// NewShareSnapshot builds a share payload.
func NewShareSnapshot(set CollectionSet, now time.Time) ShareSnapshot {
	return ShareSnapshot{
		CollectionSet: set,
		SharedAt:      now.UTC(),
		Source:        ShareSource,
	}
}

// DecodeSnapshot parses a pulled payload. The primary collection must be
// present as an array; the secondary collection is optional.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var head struct {
		Games       json.RawMessage `json:"games"`
		SyncVersion string          `json:"syncVersion"`
		Timestamp   string          `json:"timestamp"`
		Device      string          `json:"device"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !isArray(head.Games) {
		return Snapshot{}, fmt.Errorf("%w: missing games array", ErrInvalidPayload)
	}
	if err := CheckVersion(head.SyncVersion); err != nil {
		return Snapshot{}, err
	}

	set, err := decodeSet(data)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		CollectionSet: set,
		SyncVersion:   head.SyncVersion,
		Device:        head.Device,
	}
	if t, err := time.Parse(time.RFC3339Nano, head.Timestamp); err == nil {
		snap.Timestamp = t
	}
	return snap, nil
}

// DecodeShareSnapshot parses a share payload.
func DecodeShareSnapshot(data []byte) (ShareSnapshot, error) {
	var head struct {
		Games    json.RawMessage `json:"games"`
		SharedAt string          `json:"sharedAt"`
		Source   string          `json:"source"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ShareSnapshot{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !isArray(head.Games) {
		return ShareSnapshot{}, fmt.Errorf("%w: missing games array", ErrInvalidPayload)
	}

	set, err := decodeSet(data)
	if err != nil {
		return ShareSnapshot{}, err
	}

	snap := ShareSnapshot{CollectionSet: set, Source: head.Source}
	if t, err := time.Parse(time.RFC3339Nano, head.SharedAt); err == nil {
		snap.SharedAt = t
	}
	return snap, nil
}

func decodeSet(data []byte) (CollectionSet, error) {
	var set CollectionSet
	if err := json.Unmarshal(data, &set); err != nil {
		return CollectionSet{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if set.Primary == nil {
		set.Primary = Collection{}
	}
	if set.Secondary == nil {
		set.Secondary = Collection{}
	}
	return set, nil
}

// CheckVersion rejects snapshots whose major sync version differs from ours.
// An empty version is accepted for payloads written before versioning.
func CheckVersion(v string) error {
	if v == "" {
		return nil
	}
	theirs := canonicalVersion(v)
	if !semver.IsValid(theirs) {
		return fmt.Errorf("%w: %q", ErrIncompatibleVersion, v)
	}
	if semver.Major(theirs) != semver.Major(canonicalVersion(SyncVersion)) {
		return fmt.Errorf("%w: %s (engine speaks %s)", ErrIncompatibleVersion, v, SyncVersion)
	}
	return nil
}

func canonicalVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

// DeviceTag describes the current machine for snapshot traceability.
func DeviceTag() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return truncate(fmt.Sprintf("%s (%s/%s)", host, runtime.GOOS, runtime.GOARCH), maxDeviceTagLen)
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
