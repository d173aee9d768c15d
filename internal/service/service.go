package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stocks-watcher/internal/engine"
	"stocks-watcher/internal/scheduler"
	"stocks-watcher/internal/storage"
)

// Service drives the engine on the scheduler's cadence and guards against
// concurrent instances via a postgres advisory lock when one is available.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the watch service. locker may be nil (single instance or
// in-memory storage).
func New(sched *scheduler.Scheduler, eng *engine.Engine, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		engine:    eng,
		logger:    logger.With().Str("component", "service").Logger(),
		locker:    locker,
		lockKey:   lockKey,
	}
}

// Run begins the polling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle executes a single evaluation cycle.
func (s *Service) ProcessCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.engine.RunCycle(ctx, at)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
