package service

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the reconciliation sweep on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	reconciler *Reconciler
	cron       *cron.Cron
	timeout    time.Duration
}

func NewSweeper(reconciler *Reconciler, schedule string, timeout time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		reconciler: reconciler,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		timeout:    timeout,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) Start() {
	log.Printf("[SWEEP] scheduler started")
	s.cron.Start()
}

// Stop prevents new runs and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("[SWEEP] stop: %v", ctx.Err())
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	stats, err := s.reconciler.Sweep(ctx)
	if err != nil {
		log.Printf("[SWEEP] error: %v", err)
	}
	if stats.Reconciled+stats.Recovered+stats.Expired > 0 {
		log.Printf("[SWEEP] reconciled=%d recovered=%d expired=%d", stats.Reconciled, stats.Recovered, stats.Expired)
	}
}
