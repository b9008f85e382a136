// Package alertgate suppresses repeat alerts for the same camera and
// violation type within a cooldown window.
package alertgate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sitewatch/sitewatch/internal/analyzer"
	"github.com/sitewatch/sitewatch/internal/logger"
)

// Gate tracks recently admitted alerts per (camera, violation type) and
// rejects repeats until the cooldown window has passed.
type Gate struct {
	window time.Duration
	logger *logger.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// New creates a Gate with the given cooldown window.
func New(window time.Duration, log *logger.Logger) *Gate {
	return &Gate{
		window:   window,
		logger:   log,
		lastSeen: make(map[string]time.Time),
	}
}

func key(cameraID string, violation analyzer.ViolationType) string {
	return fmt.Sprintf("%s:%s", cameraID, violation)
}

// Admit reports whether an alert for this camera and violation type may be
// raised now. Admitting starts (or restarts) the cooldown for the pair.
func (g *Gate) Admit(cameraID string, violation analyzer.ViolationType, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key(cameraID, violation)
	if last, ok := g.lastSeen[k]; ok && now.Sub(last) < g.window {
		return false
	}
	g.lastSeen[k] = now
	return true
}

// sweep removes entries that have been idle past the cooldown window. Kept
// to twice the window so a pair expiring between sweeps still blocks.
func (g *Gate) sweep(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for k, last := range g.lastSeen {
		if now.Sub(last) > g.window*2 {
			delete(g.lastSeen, k)
			removed++
		}
	}
	if removed > 0 {
		g.logger.Debug("Swept expired cooldown entries", "removed", removed)
	}
}

// Run sweeps expired entries at the given interval until the context ends.
func (g *Gate) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.sweep(now)
		}
	}
}

// Size returns the number of tracked cooldown entries.
func (g *Gate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastSeen)
}
