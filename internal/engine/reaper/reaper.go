// Package reaper runs the engine's background hygiene loop: expiring
// overdue sessions and erasing media + records past the retention window.
package reaper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/duetapp/duet/internal/engine/domain"
	"github.com/duetapp/duet/internal/engine/storage"
	"github.com/duetapp/duet/internal/media"
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = 5 * time.Minute

// DefaultRetention is how long terminal sessions are kept before erasure.
const DefaultRetention = 30 * 24 * time.Hour

// Config carries the reaper's collaborators and tunables.
type Config struct {
	Store     storage.SessionStore
	Media     media.Sink
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// Reaper sweeps the session store on an interval.
type Reaper struct {
	store     storage.SessionStore
	media     media.Sink
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// New builds a Reaper.
func New(cfg Config) (*Reaper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Media == nil {
		return nil, fmt.Errorf("media sink is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{
		store:     cfg.Store,
		media:     cfg.Media,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		now:       cfg.Now,
	}, nil
}

// Run sweeps immediately and then on every interval tick until the context
// is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if err := r.Sweep(ctx); err != nil {
		log.Printf("reaper: sweep failed: %v", err)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				log.Printf("reaper: sweep failed: %v", err)
			}
		}
	}
}

// Sweep performs one pass: expire overdue sessions, then erase terminal
// sessions older than the retention window. Per-session failures are logged
// and retried on the next sweep; they never abort the pass.
func (r *Reaper) Sweep(ctx context.Context) error {
	now := r.now().UTC()

	overdue, err := r.store.FindExpiredBefore(ctx, now)
	if err != nil {
		return fmt.Errorf("find overdue sessions: %w", err)
	}
	for i := range overdue {
		r.expire(ctx, &overdue[i], now)
	}

	stale, err := r.store.FindTerminalBefore(ctx, now.Add(-r.retention))
	if err != nil {
		return fmt.Errorf("find stale terminal sessions: %w", err)
	}
	for i := range stale {
		r.erase(ctx, &stale[i])
	}
	return nil
}

func (r *Reaper) expire(ctx context.Context, session *domain.Session, now time.Time) {
	if err := session.Expire(now); err != nil {
		log.Printf("reaper: expire session %s rejected: %v", session.ID, err)
		return
	}
	if _, err := r.store.Update(ctx, *session); err != nil {
		// A concurrent write moved the session; the next sweep re-evaluates.
		log.Printf("reaper: persist expiry of session %s failed: %v", session.ID, err)
	}
}

// erase deletes a session's media first and its record second, so a failed
// media delete leaves the record behind as the retry trigger.
func (r *Reaper) erase(ctx context.Context, session *domain.Session) {
	for _, key := range session.MediaKeys() {
		if err := r.media.Delete(ctx, key); err != nil {
			log.Printf("reaper: delete media %s for session %s failed: %v", key, session.ID, err)
			return
		}
	}
	if err := r.store.Delete(ctx, session.ID); err != nil {
		log.Printf("reaper: delete session %s failed: %v", session.ID, err)
	}
}
