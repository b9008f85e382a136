package alerts

import (
	"context"
	"fmt"

	"github.com/sitewatch/sitewatch/internal/logger"
)

// Broadcaster delivers a persisted alert to an external audience, such as
// websocket clients or a message broker.
type Broadcaster interface {
	BroadcastAlert(ctx context.Context, alert *Alert) error
	Name() string
}

// LocationResolver maps a camera ID to its site location. Optional; a
// failed lookup leaves the alert without a location.
type LocationResolver func(ctx context.Context, cameraID string) (string, error)

// Publisher persists alerts and fans them out to broadcasters. Persistence
// is authoritative: an alert that fails to save is not broadcast, while a
// failed broadcast only logs.
type Publisher struct {
	store        *Store
	broadcasters []Broadcaster
	locate       LocationResolver
	logger       *logger.Logger
}

// NewPublisher creates a Publisher over the given store and broadcasters.
func NewPublisher(store *Store, broadcasters []Broadcaster, locate LocationResolver, log *logger.Logger) *Publisher {
	return &Publisher{
		store:        store,
		broadcasters: broadcasters,
		locate:       locate,
		logger:       log,
	}
}

// Publish saves the alert and notifies all broadcasters.
func (p *Publisher) Publish(ctx context.Context, alert *Alert) error {
	if p.locate != nil && alert.LocationID == "" {
		location, err := p.locate(ctx, alert.CameraID)
		if err != nil {
			p.logger.Warn(
				"Failed to resolve camera location",
				"camera_id", alert.CameraID,
				"error", err,
			)
		} else {
			alert.LocationID = location
		}
	}

	if err := p.store.Save(ctx, alert); err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}

	p.logger.Info(
		"Alert raised",
		"alert_id", alert.ID,
		"camera_id", alert.CameraID,
		"violation_type", alert.ViolationType,
		"severity", alert.Severity,
	)

	for _, b := range p.broadcasters {
		if err := b.BroadcastAlert(ctx, alert); err != nil {
			p.logger.Warn(
				"Alert broadcast failed",
				"broadcaster", b.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}
	return nil
}
