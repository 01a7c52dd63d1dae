/*
scheduler.go - Background storage sync

PURPOSE:
  Balance queries read the Tracker's cached State, which goes stale when
  another process writes to the same database. The scheduler polls the
  stored revision and reloads when it moved, so reads catch up without a
  request having to fail with a conflict first.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Compares stored revision with the cached one (cheap header read)
  - Reloads and notifies subscribers only when they differ

CONFIGURATION:
  - CheckInterval: How often to check (default: 30 seconds)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSyncScheduler(tracker, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - tracker/tracker.go: RefreshIfStale
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/expense-ledger/tracker"
)

// SyncScheduler reloads the ledger when another writer changed it.
type SyncScheduler struct {
	Tracker       *tracker.Tracker
	CheckInterval time.Duration
	Enabled       bool

	log    *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSyncScheduler creates a new scheduler.
func NewSyncScheduler(t *tracker.Tracker, log *slog.Logger) *SyncScheduler {
	return &SyncScheduler{
		Tracker:       t,
		CheckInterval: 30 * time.Second,
		Enabled:       true,
		log:           log,
	}
}

// Start begins the scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("sync scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Info("sync scheduler started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("sync scheduler stopped")
}

func (s *SyncScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ticker.C:
			s.check()
		case <-stop:
			return
		}
	}
}

func (s *SyncScheduler) check() {
	ctx, cancel := context.WithTimeout(context.Background(), s.CheckInterval)
	defer cancel()

	reloaded, err := s.Tracker.RefreshIfStale(ctx)
	if err != nil {
		s.log.Warn("sync check failed", "err", err)
		return
	}
	if reloaded {
		s.log.Debug("ledger reloaded from storage")
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *SyncScheduler) RunNow() {
	s.check()
}
