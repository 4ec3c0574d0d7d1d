package media

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDoctor memoizes Runner.Doctor for /status. Concurrent refreshes share
// one probe, and a failed probe falls back to the last good report.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	probes singleflight.Group

	mu   sync.RWMutex
	last *Capabilities
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the cached report while it is younger than the TTL.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	if caps := d.Peek(); caps != nil && d.now().Sub(caps.ProbedAt) < d.ttl {
		return caps, nil
	}
	return d.Refresh(ctx)
}

// Peek returns the last report without probing. It is nil before the first
// successful probe.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// Refresh probes the tools now.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	v, err, _ := d.probes.Do("doctor", func() (any, error) {
		return d.runner.Doctor(ctx)
	})
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("media doctor probe failed", "error", err)
		}
		if stale := d.Peek(); stale != nil {
			return stale, nil
		}
		return nil, err
	}

	caps := v.(*Capabilities)
	d.mu.Lock()
	d.last = caps
	d.mu.Unlock()
	return caps, nil
}

// Invalidate forgets the cached report so the next Get probes again.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.last = nil
	d.mu.Unlock()
}
