// Package registry manages the set of known cameras.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitewatch/sitewatch/internal/store"
)

// ErrNotFound is returned when a camera ID does not exist.
var ErrNotFound = errors.New("camera not found")

// Camera is a registered video source.
type Camera struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location,omitempty"`
	StreamURL string    `json:"stream_url"`
	Enabled   bool      `json:"enabled"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID generates a camera identifier of the form CAM_1a2b3c4d.
func NewID() string {
	return "CAM_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Registry persists cameras in SQLite.
type Registry struct {
	mu sync.RWMutex
	db *store.Database
}

// New creates a Registry backed by the shared database.
func New(db *store.Database) *Registry {
	return &Registry{db: db}
}

// Create registers a new camera and assigns it an ID.
func (r *Registry) Create(ctx context.Context, name, location, streamURL string) (*Camera, error) {
	if name == "" {
		return nil, fmt.Errorf("camera name is required")
	}
	if streamURL == "" {
		return nil, fmt.Errorf("camera stream URL is required")
	}

	now := time.Now().UTC()
	camera := &Camera{
		ID:        NewID(),
		Name:      name,
		Location:  location,
		StreamURL: streamURL,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.DB().ExecContext(ctx,
		`INSERT INTO cameras (id, name, location, stream_url, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		camera.ID, camera.Name, camera.Location, camera.StreamURL, camera.Enabled,
		camera.CreatedAt, camera.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}
	return camera, nil
}

// Get retrieves a camera by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row := r.db.DB().QueryRowContext(ctx,
		`SELECT id, name, location, stream_url, enabled, last_seen, created_at, updated_at
		 FROM cameras WHERE id = ?`, id)

	camera, err := scanCamera(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return camera, nil
}

// List retrieves all cameras ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]*Camera, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.DB().QueryContext(ctx,
		`SELECT id, name, location, stream_url, enabled, last_seen, created_at, updated_at
		 FROM cameras ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*Camera
	for rows.Next() {
		camera, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, camera)
	}
	return cameras, rows.Err()
}

// Update modifies a camera's mutable fields.
func (r *Registry) Update(ctx context.Context, id string, name, location, streamURL *string, enabled *bool) (*Camera, error) {
	camera, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != nil {
		camera.Name = *name
	}
	if location != nil {
		camera.Location = *location
	}
	if streamURL != nil {
		camera.StreamURL = *streamURL
	}
	if enabled != nil {
		camera.Enabled = *enabled
	}
	camera.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.DB().ExecContext(ctx,
		`UPDATE cameras SET name = ?, location = ?, stream_url = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		camera.Name, camera.Location, camera.StreamURL, camera.Enabled, camera.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update camera: %w", err)
	}
	return camera, nil
}

// SetLastSeen records when a frame was last read from the camera.
func (r *Registry) SetLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.DB().ExecContext(ctx,
		`UPDATE cameras SET last_seen = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to set camera last seen: %w", err)
	}
	return nil
}

// Delete removes a camera.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.DB().ExecContext(ctx, `DELETE FROM cameras WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (*Camera, error) {
	var c Camera
	var location sql.NullString
	var lastSeen sql.NullTime
	if err := row.Scan(&c.ID, &c.Name, &location, &c.StreamURL, &c.Enabled, &lastSeen, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Location = location.String
	c.LastSeen = lastSeen.Time
	return &c, nil
}
