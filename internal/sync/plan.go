package sync

import (
	"fmt"
	"sort"
)

// conflictOutcome is the resolved action for a path both sides changed.
type conflictOutcome int

const (
	outcomeSkip conflictOutcome = iota
	outcomeUpload
	outcomeDownload
	outcomeDeleteLocal
	outcomeDeleteRemote
)

func conflictLabel(o conflictOutcome) string {
	switch o {
	case outcomeUpload:
		return "以本地版本覆盖云端"
	case outcomeDownload:
		return "以云端版本覆盖本地"
	case outcomeDeleteLocal:
		return "按云端删除同步删除本地"
	case outcomeDeleteRemote:
		return "按本地删除同步删除云端"
	default:
		return "冲突暂不处理"
	}
}

// resolveConflict picks an action for a path that changed on both sides.
// Deletions are only ever chosen when propagation is enabled; the newest
// strategy falls back to the previous snapshot of an absent side when
// judging recency.
func resolveConflict(localCur, remoteCur, localPrev, remotePrev *SnapshotEntry, propagateDelete bool, strategy ConflictStrategy) conflictOutcome {
	switch {
	case localCur != nil && remoteCur != nil:
		switch strategy {
		case ConflictPreferLocal:
			return outcomeUpload
		case ConflictPreferRemote:
			return outcomeDownload
		default:
			if isLocalNewer(localCur, remoteCur) {
				return outcomeUpload
			}

			return outcomeDownload
		}

	case localCur != nil:
		switch strategy {
		case ConflictPreferLocal:
			return outcomeUpload
		case ConflictPreferRemote:
			if propagateDelete {
				return outcomeDeleteLocal
			}

			return outcomeSkip
		default:
			remoteRef := remoteCur
			if remoteRef == nil {
				remoteRef = remotePrev
			}

			if isLocalNewer(localCur, remoteRef) {
				return outcomeUpload
			}

			if propagateDelete {
				return outcomeDeleteLocal
			}

			return outcomeSkip
		}

	case remoteCur != nil:
		switch strategy {
		case ConflictPreferLocal:
			if propagateDelete {
				return outcomeDeleteRemote
			}

			return outcomeSkip
		case ConflictPreferRemote:
			return outcomeDownload
		default:
			localRef := localCur
			if localRef == nil {
				localRef = localPrev
			}

			if isLocalNewer(localRef, remoteCur) {
				if propagateDelete {
					return outcomeDeleteRemote
				}

				return outcomeSkip
			}

			return outcomeDownload
		}

	default:
		return outcomeSkip
	}
}

// plan is the executable outcome of bidirectional reconciliation, grouped
// in execution order: uploads, downloads, remote deletes, local deletes.
type plan struct {
	uploads      []SnapshotEntry
	downloads    []SnapshotEntry
	deleteLocal  []SnapshotEntry
	deleteRemote []SnapshotEntry
	conflicts    []string
}

func (p *plan) empty() bool {
	return len(p.uploads) == 0 && len(p.downloads) == 0 &&
		len(p.deleteRemote) == 0 && len(p.deleteLocal) == 0
}

// planBidirectional reconciles the current scans against the previous
// snapshots. A path untouched on one side propagates the other side's
// change; a path changed on both runs through conflict resolution, with
// every outcome recorded as a log line.
func planBidirectional(localCur, remoteCur, localPrev, remotePrev []SnapshotEntry, propagateDelete bool, strategy ConflictStrategy) plan {
	localMap := entriesToMap(localCur)
	remoteMap := entriesToMap(remoteCur)
	prevLocalMap := entriesToMap(localPrev)
	prevRemoteMap := entriesToMap(remotePrev)

	pathSet := make(map[string]bool)
	for _, m := range []map[string]SnapshotEntry{localMap, remoteMap, prevLocalMap, prevRemoteMap} {
		for p := range m {
			pathSet[p] = true
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	var out plan

	lookup := func(m map[string]SnapshotEntry, path string) *SnapshotEntry {
		if e, ok := m[path]; ok {
			return &e
		}

		return nil
	}

	for _, path := range paths {
		localNow := lookup(localMap, path)
		remoteNow := lookup(remoteMap, path)
		localOld := lookup(prevLocalMap, path)
		remoteOld := lookup(prevRemoteMap, path)

		// Both sides present and agreeing: nothing to do when this is a
		// brand-new path, or when the previous snapshots agreed too.
		if localNow != nil && remoteNow != nil && snapshotsEqual(*localNow, *remoteNow) {
			if localOld == nil && remoteOld == nil {
				continue
			}

			prevA := localOld
			if prevA == nil {
				prevA = localNow
			}

			prevB := remoteOld
			if prevB == nil {
				prevB = remoteNow
			}

			if snapshotsEqual(*prevA, *prevB) {
				continue
			}
		}

		localChanged := hasChanged(localNow, localOld)
		remoteChanged := hasChanged(remoteNow, remoteOld)

		switch {
		case !localChanged && !remoteChanged:
			continue

		case localChanged && !remoteChanged:
			if localNow != nil {
				out.uploads = append(out.uploads, *localNow)
			} else if propagateDelete && remoteNow != nil {
				out.deleteRemote = append(out.deleteRemote, *remoteNow)
			}

		case !localChanged && remoteChanged:
			if remoteNow != nil {
				out.downloads = append(out.downloads, *remoteNow)
			} else if propagateDelete {
				if localNow != nil {
					out.deleteLocal = append(out.deleteLocal, *localNow)
				} else if localOld != nil {
					out.deleteLocal = append(out.deleteLocal, *localOld)
				}
			}

		default:
			outcome := resolveConflict(localNow, remoteNow, localOld, remoteOld, propagateDelete, strategy)
			out.conflicts = append(out.conflicts, fmt.Sprintf("%s -> %s", path, conflictLabel(outcome)))

			switch outcome {
			case outcomeUpload:
				if localNow != nil {
					out.uploads = append(out.uploads, *localNow)
				}
			case outcomeDownload:
				if remoteNow != nil {
					out.downloads = append(out.downloads, *remoteNow)
				}
			case outcomeDeleteLocal:
				if localNow != nil {
					out.deleteLocal = append(out.deleteLocal, *localNow)
				} else if localOld != nil {
					out.deleteLocal = append(out.deleteLocal, *localOld)
				}
			case outcomeDeleteRemote:
				if remoteNow != nil {
					out.deleteRemote = append(out.deleteRemote, *remoteNow)
				}
			}
		}
	}

	return out
}
