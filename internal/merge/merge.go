// Package merge reconciles two record collections by id using
// last-writer-wins on the records' updatedAt timestamps.
//
// Merging replaces whole records. A record that is newer supersedes its
// counterpart entirely, even when only one field differs. Ties keep the local
// record, and a missing timestamp counts as the Unix epoch. A timestamp that
// is present but unparseable is not comparable: a record carrying one never
// replaces and is never replaced by its counterpart.
package merge

import (
	"time"

	"github.com/xtreamgames/xsync/internal/record"
)

var epoch = time.Unix(0, 0).UTC()

// Stats summarizes what a merge did to the local collection.
type Stats struct {
	// Added counts incoming records whose id was not present locally.
	Added int
	// Replaced counts local records superseded by a newer incoming record.
	Replaced int
	// Kept counts incoming records that lost to (or tied with) the local record.
	Kept int
}

// Changed reports whether the merge result differs from the local input.
func (s Stats) Changed() bool {
	return s.Added > 0 || s.Replaced > 0
}

// Add accumulates another merge's stats.
func (s Stats) Add(other Stats) Stats {
	return Stats{
		Added:    s.Added + other.Added,
		Replaced: s.Replaced + other.Replaced,
		Kept:     s.Kept + other.Kept,
	}
}

// Merge reconciles local with incoming and returns a new collection.
//
// The result holds local records first, in their original order, followed by
// incoming records whose ids were not present locally, in incoming order.
// Neither input is modified.
func Merge(local, incoming record.Collection) record.Collection {
	merged, _ := MergeWithStats(local, incoming)
	return merged
}

// MergeWithStats is Merge that also reports what changed.
func MergeWithStats(local, incoming record.Collection) (record.Collection, Stats) {
	var stats Stats

	index := make(map[string]int, len(local)+len(incoming))
	out := make(record.Collection, 0, len(local)+len(incoming))

	// A repeated id inside local keeps its first position and its last value.
	for _, r := range local {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}

	for _, in := range incoming {
		i, ok := index[in.ID]
		if !ok {
			index[in.ID] = len(out)
			out = append(out, in)
			stats.Added++
			continue
		}
		if Newer(in, out[i]) {
			out[i] = in
			stats.Replaced++
			continue
		}
		stats.Kept++
	}

	return out, stats
}

// MergeSet merges both domain collections of a set.
func MergeSet(local, incoming record.CollectionSet) (record.CollectionSet, Stats) {
	primary, ps := MergeWithStats(local.Primary, incoming.Primary)
	secondary, ss := MergeWithStats(local.Secondary, incoming.Secondary)
	return record.CollectionSet{Primary: primary, Secondary: secondary}, ps.Add(ss)
}

// Newer reports whether candidate strictly supersedes current.
func Newer(candidate, current record.Record) bool {
	if candidate.InvalidUpdatedAt() || current.InvalidUpdatedAt() {
		return false
	}
	return stamp(candidate).After(stamp(current))
}

func stamp(r record.Record) time.Time {
	if !r.HasUpdatedAt() {
		return epoch
	}
	return r.UpdatedAt()
}
