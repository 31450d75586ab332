package catalog

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ActiveTokenFunc resolves the active profile's id and a fresh token for
// it, going through the Token Resolver with refresh-if-missing semantics.
type ActiveTokenFunc func(ctx context.Context) (profileID, tok string, ok bool)

// Scheduler runs a single background task that periodically refreshes
// the active profile's catalog entry. Single-instance per process;
// stopping cancels the timer. A tick in progress when the next tick
// fires completes before the next tick begins (no overlapping ticks).
type Scheduler struct {
	catalog      *Catalog
	interval     time.Duration
	staleAfterMs int64
	resolveToken ActiveTokenFunc

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler constructs a Scheduler. interval and staleAfter come from
// config.Model.RefreshIntervalMinutes / the same value expressed in ms.
func NewScheduler(c *Catalog, interval time.Duration, resolveToken ActiveTokenFunc) *Scheduler {
	return &Scheduler{
		catalog:      c,
		interval:     interval,
		staleAfterMs: interval.Milliseconds(),
		resolveToken: resolveToken,
		done:         make(chan struct{}),
	}
}

// Start begins the periodic refresh loop, running once immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs synchronously so an in-flight tick is never interrupted by
// the next timer fire; the ticker channel simply accumulates at most one
// pending tick while this one completes.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("catalog scheduler: tick panicked: %v", r)
		}
	}()

	profileID, tok, ok := s.resolveToken(ctx)
	if !ok || profileID == "" || tok == "" {
		log.Debugf("catalog scheduler: no active profile/token, skipping tick")
		return
	}
	if _, err := s.catalog.EnsureFresh(ctx, profileID, tok, s.staleAfterMs); err != nil {
		log.Warnf("catalog scheduler: refresh failed for %s: %v", profileID, err)
	}
}

// Stop cancels the timer. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}
