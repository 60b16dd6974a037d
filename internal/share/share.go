// Package share exports a device's collections as a standalone snapshot that
// anyone holding the link can import, independent of cloud identity.
package share

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/xtreamgames/xsync/internal/merge"
	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/remote"
)

// BlobName is the name every share blob is created under.
const BlobName = "Xtream Games Shared Collection"

// MinReferenceLength is the shortest blob id accepted by ParseReference.
const MinReferenceLength = 10

// ErrInvalidReference is returned when a share reference does not yield a
// usable blob id.
var ErrInvalidReference = errors.New("invalid share reference")

var (
	blobPathPattern = regexp.MustCompile(`/[bv]/([A-Za-z0-9]+)`)
	alnumPattern    = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// Policy decides how an imported primary collection is combined with the
// local one.
type Policy string

const (
	// PolicyMerge merges by id with last-writer-wins.
	PolicyMerge Policy = "merge"
	// PolicyReplace discards the local primary collection.
	PolicyReplace Policy = "replace"
)

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyMerge:
		return PolicyMerge, nil
	case PolicyReplace:
		return PolicyReplace, nil
	}
	return "", fmt.Errorf("unknown share policy %q (want merge or replace)", s)
}

// Link identifies an exported snapshot.
type Link struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// Sharer creates and fetches share blobs.
type Sharer struct {
	client  remote.Client
	baseURL string
	now     func() time.Time
}

// New creates a Sharer. baseURL is the page share links point at; when empty
// links carry only the blob id.
func New(client remote.Client, baseURL string) *Sharer {
	return &Sharer{client: client, baseURL: baseURL, now: time.Now}
}

// Export pushes set as a share snapshot and returns its link.
func (s *Sharer) Export(ctx context.Context, set record.CollectionSet) (Link, error) {
	snap := record.NewShareSnapshot(set, s.now())
	id, err := s.client.Create(ctx, BlobName, snap)
	if err != nil {
		return Link{}, fmt.Errorf("failed to export share snapshot: %w", err)
	}
	return Link{ID: id, URL: BuildURL(s.baseURL, id)}, nil
}

// Import resolves ref and fetches the shared collections.
func (s *Sharer) Import(ctx context.Context, ref string) (record.CollectionSet, error) {
	id, err := ParseReference(ref)
	if err != nil {
		return record.CollectionSet{}, err
	}

	data, err := s.client.GetByID(ctx, id)
	if err != nil {
		return record.CollectionSet{}, fmt.Errorf("failed to fetch share %s: %w", id, err)
	}

	snap, err := record.DecodeShareSnapshot(data)
	if err != nil {
		return record.CollectionSet{}, err
	}
	return snap.CollectionSet, nil
}

// BuildURL appends the share query parameter to base.
func BuildURL(base, id string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("share", id)
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseReference extracts a blob id from a bare id, a blob URL
// (".../b/<id>" or ".../v/<id>") or a share link ("...?share=<id>").
func ParseReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidReference)
	}

	id := ref
	if strings.Contains(ref, "://") || strings.Contains(ref, "?") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		if v := u.Query().Get("share"); v != "" {
			id = v
		} else if m := blobPathPattern.FindStringSubmatch(u.Path); m != nil {
			id = m[1]
		} else {
			return "", fmt.Errorf("%w: no blob id in %q", ErrInvalidReference, ref)
		}
	} else if strings.Contains(ref, "/") {
		m := blobPathPattern.FindStringSubmatch(ref)
		if m == nil {
			return "", fmt.Errorf("%w: no blob id in %q", ErrInvalidReference, ref)
		}
		id = m[1]
	}

	id = strings.TrimSpace(id)
	if len(id) < MinReferenceLength {
		return "", fmt.Errorf("%w: id %q shorter than %d characters", ErrInvalidReference, id, MinReferenceLength)
	}
	if !alnumPattern.MatchString(id) {
		return "", fmt.Errorf("%w: id %q is not alphanumeric", ErrInvalidReference, id)
	}
	return id, nil
}

// Apply combines imported collections with local ones. The secondary
// collection is taken from the share whenever it is non-empty. Policy names
// are matched case-insensitively; anything but merge or replace is an error.
func Apply(local, shared record.CollectionSet, policy Policy) (record.CollectionSet, error) {
	policy, err := ParsePolicy(string(policy))
	if err != nil {
		return record.CollectionSet{}, err
	}

	out := record.CollectionSet{Secondary: local.Secondary}

	switch policy {
	case PolicyReplace:
		out.Primary = append(record.Collection{}, shared.Primary...)
	case PolicyMerge:
		out.Primary = merge.Merge(local.Primary, shared.Primary)
	}

	if len(shared.Secondary) > 0 {
		out.Secondary = append(record.Collection{}, shared.Secondary...)
	}
	if out.Secondary == nil {
		out.Secondary = record.Collection{}
	}
	return out, nil
}
