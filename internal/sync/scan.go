package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/feisync/feisync/internal/transfer"
)

// Client is the drive surface a sync run consumes: everything the
// transfer engine needs plus listing and deletion. Satisfied by
// *drive.Client.
type Client interface {
	transfer.Client
	DeleteFile(ctx context.Context, token, fileType string) error
}

// scanLocal walks the root and snapshots every regular file passing the
// filter. Paths are slash-normalized, NFC-composed, and relative to the
// root.
func scanLocal(root string, f filter) ([]SnapshotEntry, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("本地目录不存在: %s", root)
		}

		return nil, fmt.Errorf("reading local directory: %w", err)
	}

	var out []SnapshotEntry

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		// macOS reports decomposed names; compose them so local and
		// remote paths key identically.
		relPath := norm.NFC.String(normalizeRelPath(rel))

		if !f.match(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		size := info.Size()
		mtime := info.ModTime().UTC()

		out = append(out, SnapshotEntry{
			Path:       relPath,
			Size:       &size,
			ModifiedAt: &mtime,
			EntryType:  "file",
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// scanRemote walks the remote folder tree breadth first, snapshotting
// every file passing the filter. The returned directory map pairs each
// visited relative path with its folder token, seeded with "" for the
// root.
func scanRemote(ctx context.Context, cl Client, rootToken string, f filter) ([]SnapshotEntry, map[string]string, error) {
	type queueItem struct {
		token  string
		prefix string
	}

	dirs := map[string]string{"": rootToken}

	var files []SnapshotEntry

	queue := []queueItem{{token: rootToken}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		entries, err := cl.ListFolder(ctx, item.token)
		if err != nil {
			return nil, nil, err
		}

		for _, entry := range entries {
			rel := entry.Name
			if item.prefix != "" {
				rel = path.Join(item.prefix, entry.Name)
			}

			if entry.IsFolder() {
				dirs[rel] = entry.Token
				queue = append(queue, queueItem{token: entry.Token, prefix: rel})

				continue
			}

			if !f.match(rel) {
				continue
			}

			snap := SnapshotEntry{
				Path:      rel,
				Size:      entry.Size,
				Token:     entry.Token,
				EntryType: entry.Type,
			}

			if entry.UpdateTime != nil {
				if ts := parseRemoteTimestamp(*entry.UpdateTime); ts != nil {
					snap.ModifiedAt = ts
				}
			}

			files = append(files, snap)
		}
	}

	return files, dirs, nil
}

// parseRemoteTimestamp accepts either an RFC 3339 string or a unix-epoch
// seconds string; anything else yields no timestamp.
func parseRemoteTimestamp(text string) *time.Time {
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		utc := t.UTC()

		return &utc
	}

	if secs, err := strconv.ParseInt(text, 10, 64); err == nil && secs > 0 {
		t := time.Unix(secs, 0).UTC()

		return &t
	}

	return nil
}
