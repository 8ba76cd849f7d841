package broadcast

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/streamloop/streamloop/internal/models"
	"github.com/streamloop/streamloop/internal/repository"
)

// Rotator cycles through per-user asset folders (thumbnails, titles) using
// persisted rotation counters, so consecutive broadcasts draw different
// assets and the cycle survives restarts.
type Rotator struct {
	indexes repository.RotationIndexRepository
}

// NewRotator creates a Rotator.
func NewRotator(indexes repository.RotationIndexRepository) *Rotator {
	return &Rotator{indexes: indexes}
}

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// NextThumbnail picks the next thumbnail for the template. A pinned
// thumbnail bypasses rotation and does not consume an index.
func (r *Rotator) NextThumbnail(ctx context.Context, userID models.ULID, tmpl *models.BroadcastTemplate) (string, error) {
	if tmpl.PinnedThumbnail != "" {
		return tmpl.PinnedThumbnail, nil
	}
	if tmpl.ThumbnailFolder == "" {
		return "", nil
	}
	return r.next(ctx, userID, tmpl.ThumbnailFolder, func(name string) bool {
		return imageExts[strings.ToLower(filepath.Ext(name))]
	})
}

// NextTitle picks the next title for the template. The title folder holds
// one .txt file per candidate title; the file's first line is the title.
// A pinned title bypasses rotation.
func (r *Rotator) NextTitle(ctx context.Context, userID models.ULID, tmpl *models.BroadcastTemplate) (string, error) {
	if tmpl.PinnedTitle != "" {
		return tmpl.PinnedTitle, nil
	}
	if tmpl.TitleFolder == "" {
		return "", nil
	}
	path, err := r.next(ctx, userID, tmpl.TitleFolder, func(name string) bool {
		return strings.EqualFold(filepath.Ext(name), ".txt")
	})
	if err != nil || path == "" {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading title file %s: %w", path, err)
	}
	title, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(title), nil
}

// next lists the folder, sorts entries by name, consumes one rotation index
// and returns the item at index mod count. An empty folder yields "".
func (r *Rotator) next(ctx context.Context, userID models.ULID, folder string, match func(string) bool) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", fmt.Errorf("listing rotation folder %s: %w", folder, err)
	}

	var items []string
	for _, e := range entries {
		if e.IsDir() || !match(e.Name()) {
			continue
		}
		items = append(items, e.Name())
	}
	if len(items) == 0 {
		return "", nil
	}
	sort.Strings(items)

	idx, err := r.indexes.Advance(ctx, userID, folder)
	if err != nil {
		return "", err
	}
	return filepath.Join(folder, items[idx%len(items)]), nil
}
