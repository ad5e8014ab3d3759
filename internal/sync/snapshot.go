package sync

import "time"

// mtimeTolerance absorbs filesystem and API timestamp granularity when
// comparing the two sides of a path.
const mtimeTolerance = 2 * time.Second

// snapshotsEqual reports whether two observations of the same path agree.
// Sizes only disagree when both are known and differ; mtimes only
// disagree when both are known and more than the tolerance apart.
func snapshotsEqual(a, b SnapshotEntry) bool {
	if a.Size != nil && b.Size != nil && *a.Size != *b.Size {
		return false
	}

	if a.ModifiedAt != nil && b.ModifiedAt != nil {
		delta := a.ModifiedAt.Sub(*b.ModifiedAt)
		if delta < 0 {
			delta = -delta
		}

		return delta <= mtimeTolerance
	}

	return true
}

// hasChanged treats appearance, disappearance, and metadata drift all as
// changes between a previous and current observation.
func hasChanged(current, previous *SnapshotEntry) bool {
	switch {
	case current == nil && previous == nil:
		return false
	case current == nil || previous == nil:
		return true
	default:
		return !snapshotsEqual(*current, *previous)
	}
}

// isLocalNewer breaks a both-sides-changed tie for the newest strategy.
// A known mtime beats an unknown one; with both unknown the larger size
// wins, local taking equal sizes.
func isLocalNewer(local, remote *SnapshotEntry) bool {
	var localTime, remoteTime *time.Time

	if local != nil {
		localTime = local.ModifiedAt
	}

	if remote != nil {
		remoteTime = remote.ModifiedAt
	}

	switch {
	case localTime != nil && remoteTime != nil:
		return localTime.After(*remoteTime)
	case localTime != nil:
		return true
	case remoteTime != nil:
		return false
	}

	var localSize, remoteSize int64

	if local != nil && local.Size != nil {
		localSize = *local.Size
	}

	if remote != nil && remote.Size != nil {
		remoteSize = *remote.Size
	}

	return localSize >= remoteSize
}

func entriesToMap(entries []SnapshotEntry) map[string]SnapshotEntry {
	m := make(map[string]SnapshotEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}

	return m
}

// diffAgainst returns the entries of src that are absent from dst or
// differ from dst's entry at the same path.
func diffAgainst(src, dst []SnapshotEntry) []SnapshotEntry {
	dstMap := entriesToMap(dst)

	var out []SnapshotEntry

	for _, e := range src {
		if other, ok := dstMap[e.Path]; !ok || !snapshotsEqual(e, other) {
			out = append(out, e)
		}
	}

	return out
}

// onlyInFirst returns the entries of first whose paths do not appear in
// second at all.
func onlyInFirst(first, second []SnapshotEntry) []SnapshotEntry {
	secondMap := entriesToMap(second)

	var out []SnapshotEntry

	for _, e := range first {
		if _, ok := secondMap[e.Path]; !ok {
			out = append(out, e)
		}
	}

	return out
}
