package scheduler

import (
	"context"
	"sync"
	"time"

	"debtloop/internal/domain"
	"debtloop/internal/loop"
	"debtloop/pkg/logger"
)

// Scheduler periodically refreshes loop candidates and expires stale
// proposals.
type Scheduler struct {
	loops      LoopService
	currencies []domain.Currency
	interval   time.Duration
	logger     logger.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	now     func() time.Time
}

func NewScheduler(loops LoopService, currencies []domain.Currency, interval time.Duration, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		loops:      loops,
		currencies: currencies,
		interval:   interval,
		logger:     log,
		now:        time.Now,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.RunOnce(context.Background())
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()
	s.logger.Info("Loop scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

// Stop halts the ticker and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("Loop scheduler stopped", nil)
}

// RunOnce expires stale loops, then runs detection for every configured
// currency. Failures are logged and do not stop the pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	expired, err := s.loops.ExpireStale(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to expire stale loops", map[string]interface{}{
			"error": err.Error(),
		})
	}

	for _, currency := range s.currencies {
		resp, err := s.loops.Detect(ctx, loop.DetectRequest{Currency: currency})
		if err != nil {
			s.logger.Error("Scheduled detection failed", map[string]interface{}{
				"currency": currency,
				"error":    err.Error(),
			})
			continue
		}
		s.logger.Info("Scheduled detection finished", map[string]interface{}{
			"currency":   currency,
			"candidates": len(resp.Candidates),
			"expired":    expired,
		})
	}
}

type LoopService interface {
	Detect(ctx context.Context, req loop.DetectRequest) (*loop.DetectResponse, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}
