// Package evidence stores snapshot frames that back alerts.
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// Writer persists a JPEG snapshot and returns its storage path. A failed
// write must not block the alert itself.
type Writer interface {
	Save(ctx context.Context, cameraID, violation string, capturedAt time.Time, jpeg []byte) (string, error)
}

// objectPath builds the canonical snapshot path, relative to the store root:
// <cameraID>/<YYYY/MM/DD>/<HHMMSS>_<violation>.jpg
func objectPath(cameraID, violation string, capturedAt time.Time) string {
	return filepath.Join(
		cameraID,
		capturedAt.Format("2006/01/02"),
		fmt.Sprintf("%s_%s.jpg", capturedAt.Format("150405"), violation),
	)
}

// DiskWriter saves snapshots under a local directory.
type DiskWriter struct {
	root   string
	logger *logger.Logger
}

// NewDiskWriter creates a writer rooted at dir, creating it if needed.
func NewDiskWriter(dir string, log *logger.Logger) (*DiskWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return &DiskWriter{root: dir, logger: log}, nil
}

// Save writes the snapshot to disk and returns its path relative to the root.
func (w *DiskWriter) Save(ctx context.Context, cameraID, violation string, capturedAt time.Time, jpeg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rel := objectPath(cameraID, violation, capturedAt)
	full := filepath.Join(w.root, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(full, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	w.logger.Debug("Saved evidence snapshot", "path", rel, "bytes", len(jpeg))
	return rel, nil
}
