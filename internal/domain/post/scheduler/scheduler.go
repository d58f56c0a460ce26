package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Processor defines the pipeline tick operations driven by this scheduler
type Processor interface {
	ProcessRenderQueue(ctx context.Context, poolSize, batch int) error
	ProcessInstantQueue(ctx context.Context, poolSize, batch int) error
	FormCarousels(ctx context.Context) error
	ProcessCarouselQueue(ctx context.Context, poolSize, batch int) error
	ReconcileStuck(ctx context.Context, olderThan time.Duration) error
}

// TokenRefresher renews long-lived tokens approaching expiry
type TokenRefresher interface {
	RefreshExpiringTokens(ctx context.Context) error
}

// Config holds tick intervals and pool sizes
type Config struct {
	RenderInterval    time.Duration
	PublishInterval   time.Duration
	CarouselInterval  time.Duration
	ReconcileInterval time.Duration
	StuckAfter        time.Duration
	TokenRefreshAt    string // "HH:MM" local time
	StopGrace         time.Duration

	RenderPool    int
	PublishPool   int
	CarouselPool  int
	RenderBatch   int
	PublishBatch  int
	CarouselBatch int
}

// DefaultConfig returns the standard pipeline cadence
func DefaultConfig() Config {
	return Config{
		RenderInterval:    5 * time.Second,
		PublishInterval:   5 * time.Second,
		CarouselInterval:  15 * time.Second,
		ReconcileInterval: 5 * time.Minute,
		StuckAfter:        30 * time.Minute,
		TokenRefreshAt:    "04:10",
		StopGrace:         30 * time.Second,
		RenderPool:        4,
		PublishPool:       8,
		CarouselPool:      2,
		RenderBatch:       50,
		PublishBatch:      50,
		CarouselBatch:     5,
	}
}

// Scheduler drives the pipeline: four periodic tick loops plus a daily
// token refresh
type Scheduler struct {
	processor Processor
	refresher TokenRefresher
	cfg       Config
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// New creates a new scheduler
func New(processor Processor, refresher TokenRefresher, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		processor: processor,
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start starts all scheduler loops
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("pipeline scheduler started",
		"render_interval", s.cfg.RenderInterval,
		"publish_interval", s.cfg.PublishInterval,
		"carousel_interval", s.cfg.CarouselInterval,
		"reconcile_interval", s.cfg.ReconcileInterval,
	)

	s.loop(ctx, s.cfg.RenderInterval, "render", func(ctx context.Context) error {
		return s.processor.ProcessRenderQueue(ctx, s.cfg.RenderPool, s.cfg.RenderBatch)
	})
	s.loop(ctx, s.cfg.PublishInterval, "publish", func(ctx context.Context) error {
		return s.processor.ProcessInstantQueue(ctx, s.cfg.PublishPool, s.cfg.PublishBatch)
	})
	s.loop(ctx, s.cfg.CarouselInterval, "carousel", func(ctx context.Context) error {
		if err := s.processor.FormCarousels(ctx); err != nil {
			return err
		}
		return s.processor.ProcessCarouselQueue(ctx, s.cfg.CarouselPool, s.cfg.CarouselBatch)
	})
	s.loop(ctx, s.cfg.ReconcileInterval, "reconcile", func(ctx context.Context) error {
		return s.processor.ReconcileStuck(ctx, s.cfg.StuckAfter)
	})

	if s.refresher != nil {
		s.wg.Add(1)
		go s.dailyTokenRefresh(ctx)
	}
}

// Stop stops all loops and waits for in-flight ticks to finish, up to the
// configured grace. A tick still running past the grace is abandoned so
// shutdown cannot hang on a slow upstream.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.cfg.StopGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
		s.logger.Info("pipeline scheduler stopped")
	case <-time.After(grace):
		s.logger.Warn("stop grace elapsed, abandoning in-flight ticks", "grace", grace)
	}
}

// loop runs a tick function on an interval until stopped
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, name string, tick func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Run immediately on start
		s.tick(ctx, name, tick)

		for {
			select {
			case <-ticker.C:
				s.tick(ctx, name, tick)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context, name string, tick func(context.Context) error) {
	if err := tick(ctx); err != nil {
		s.logger.Error("tick failed", "loop", name, "error", err)
	}
}

// dailyTokenRefresh fires once a day at the configured wall-clock time
func (s *Scheduler) dailyTokenRefresh(ctx context.Context) {
	defer s.wg.Done()

	for {
		delay, err := untilNext(s.cfg.TokenRefreshAt, time.Now())
		if err != nil {
			s.logger.Error("invalid token refresh time, loop disabled", "at", s.cfg.TokenRefreshAt, "error", err)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			if err := s.refresher.RefreshExpiringTokens(ctx); err != nil {
				s.logger.Error("token refresh failed", "error", err)
			}
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// untilNext computes the duration until the next occurrence of an "HH:MM"
// wall-clock time
func untilNext(at string, now time.Time) (time.Duration, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("parsing %q: %w", at, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", at)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now), nil
}
