package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/store"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("alert not found")

// ErrInvalidStatus is returned for status values outside the known set.
var ErrInvalidStatus = errors.New("invalid alert status")

// Filter narrows List queries. Zero fields are ignored.
type Filter struct {
	CameraID      string
	ViolationType string
	Severity      string
	Status        string
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// Stats summarizes the alert history.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	BySeverity map[string]int `json:"by_severity"`
	ByType     map[string]int `json:"by_type"`
}

// Store persists alerts in SQLite.
type Store struct {
	mu sync.RWMutex
	db *store.Database
}

// NewStore creates an alert store backed by the shared database.
func NewStore(db *store.Database) *Store {
	return &Store{db: db}
}

// Save inserts a new alert.
func (s *Store) Save(ctx context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var object interface{}
	if alert.Object != nil {
		data, err := json.Marshal(alert.Object)
		if err != nil {
			return fmt.Errorf("failed to encode primary object: %w", err)
		}
		object = string(data)
	}

	query := `
		INSERT INTO alerts (id, camera_id, location_id, violation_type, severity, status, description, confidence, primary_object, snapshot_path, assignee, resolution_notes, raised_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.DB().ExecContext(ctx, query,
		alert.ID, alert.CameraID, alert.LocationID, string(alert.ViolationType),
		string(alert.Severity), string(alert.Status), alert.Description, alert.Confidence,
		object, alert.SnapshotPath, alert.Assignee, alert.Resolution,
		alert.RaisedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// Get retrieves a single alert by ID.
func (s *Store) Get(ctx context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, camera_id, location_id, violation_type, severity, status, description, confidence, primary_object, snapshot_path, assignee, resolution_notes, raised_at, updated_at
		FROM alerts WHERE id = ?
	`
	alert, err := scanAlert(s.db.DB().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// List retrieves alerts matching the filter, most recent first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var args []interface{}

	if filter.CameraID != "" {
		conditions = append(conditions, "camera_id = ?")
		args = append(args, filter.CameraID)
	}
	if filter.ViolationType != "" {
		conditions = append(conditions, "violation_type = ?")
		args = append(args, filter.ViolationType)
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "raised_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "raised_at <= ?")
		args = append(args, filter.Until)
	}

	query := `
		SELECT id, camera_id, location_id, violation_type, severity, status, description, confidence, primary_object, snapshot_path, assignee, resolution_notes, raised_at, updated_at
		FROM alerts
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY raised_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var result []*Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, alert)
	}
	return result, rows.Err()
}

// UpdateStatus transitions an alert to a new triage status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) (*Alert, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update alert status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, id)
}

// Assign sets the person responsible for an alert. An alert still in the
// new state moves to in_progress.
func (s *Store) Assign(ctx context.Context, id, assignee string) (*Alert, error) {
	s.mu.Lock()
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE alerts SET assignee = ?, status = CASE WHEN status = 'new' THEN 'in_progress' ELSE status END, updated_at = ? WHERE id = ?`,
		assignee, time.Now().UTC(), id,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to assign alert: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, id)
}

// Resolve closes an alert as handled, recording the resolution notes.
func (s *Store) Resolve(ctx context.Context, id, notes string) (*Alert, error) {
	return s.close(ctx, id, StatusResolved, notes)
}

// Dismiss closes an alert as a false positive or non-issue.
func (s *Store) Dismiss(ctx context.Context, id, notes string) (*Alert, error) {
	return s.close(ctx, id, StatusDismissed, notes)
}

func (s *Store) close(ctx context.Context, id string, status Status, notes string) (*Alert, error) {
	s.mu.Lock()
	res, err := s.db.DB().ExecContext(ctx,
		`UPDATE alerts SET status = ?, resolution_notes = ?, updated_at = ? WHERE id = ?`,
		string(status), notes, time.Now().UTC(), id,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to close alert: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, ErrNotFound
	}

	return s.Get(ctx, id)
}

// SetSnapshotPath records the evidence path for an alert.
func (s *Store) SetSnapshotPath(ctx context.Context, id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE alerts SET snapshot_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("failed to set snapshot path: %w", err)
	}
	return nil
}

// GetStats aggregates alert counts by status, severity, and type.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByStatus:   make(map[string]int),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
	}

	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT status, severity, violation_type, COUNT(*) FROM alerts GROUP BY status, severity, violation_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, severity, vtype string
		var count int
		if err := rows.Scan(&status, &severity, &vtype, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
		stats.ByType[vtype] += count
	}
	return stats, rows.Err()
}

// DeleteOlderThan removes alerts raised before the cutoff. Returns the
// number of rows removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.DB().ExecContext(ctx, `DELETE FROM alerts WHERE raised_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old alerts: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	var a Alert
	var vtype, severity, status string
	var location, description, object, snapshotPath, assignee, resolution sql.NullString
	if err := row.Scan(
		&a.ID, &a.CameraID, &location, &vtype, &severity, &status,
		&description, &a.Confidence, &object, &snapshotPath, &assignee, &resolution,
		&a.RaisedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.ViolationType = analyzer.ViolationType(vtype)
	a.Severity = analyzer.Severity(severity)
	a.Status = Status(status)
	a.LocationID = location.String
	a.Description = description.String
	a.SnapshotPath = snapshotPath.String
	a.Assignee = assignee.String
	a.Resolution = resolution.String
	if object.Valid && object.String != "" {
		if err := json.Unmarshal([]byte(object.String), &a.Object); err != nil {
			return nil, fmt.Errorf("failed to decode primary object: %w", err)
		}
	}
	return &a, nil
}
