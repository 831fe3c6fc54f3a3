// Package artifact locates the downloaded deliverable on disk. Some remote
// surfaces never expose a download-completion event, so the retrieve stage
// falls back to scanning for the most recently modified matching file
// created after the stage began.
package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/drayhq/dray/pkg/schema"
)

// FileMeta describes one candidate artifact file.
type FileMeta struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ListRecent returns regular files in dir whose name matches the extension
// filter (e.g. ".epub"; "" matches all) and whose modification time is after
// the cutoff, sorted newest first.
func ListRecent(dir, ext string, after time.Time) ([]FileMeta, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"scan %s: %s", dir, err.Error()).WithCause(err)
	}

	var files []FileMeta
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().After(after) {
			continue
		}
		files = append(files, FileMeta{
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	return files, nil
}

// WaitForFile polls ListRecent until a match appears or the acceptance
// window closes. Returns ARTIFACT_NOT_FOUND when the deliverable never
// materialized within the window.
func WaitForFile(ctx context.Context, dir, ext string, after time.Time, window, interval time.Duration) (*FileMeta, error) {
	deadline := time.Now().Add(window)
	for {
		files, err := ListRecent(dir, ext, after)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			return &files[0], nil
		}

		if time.Now().After(deadline) {
			return nil, schema.NewErrorf(schema.ErrCodeArtifactNotFound,
				"no %s file in %s newer than %s within %s",
				ext, dir, after.Format(time.RFC3339), window)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
