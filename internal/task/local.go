package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("task: reconcile queue is full")

const localRetryDelay = 2 * time.Second

// LocalScheduler runs reconcile work in-process. A room already waiting in
// the queue is not queued twice.
type LocalScheduler struct {
	queue   chan string
	mu      sync.Mutex
	pending map[string]struct{}
	logger  *zap.Logger
}

func NewLocalScheduler(size int, logger *zap.Logger) *LocalScheduler {
	if size <= 0 {
		size = 256
	}
	return &LocalScheduler{
		queue:   make(chan string, size),
		pending: make(map[string]struct{}),
		logger:  logger,
	}
}

func (s *LocalScheduler) ScheduleReconcile(_ context.Context, roomID string) error {
	if roomID == "" {
		return errors.New("task: room id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[roomID]; ok {
		return nil
	}
	select {
	case s.queue <- roomID:
		s.pending[roomID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many rooms are waiting
func (s *LocalScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run drains the queue until ctx is canceled. A failed room is retried once
// after a short delay.
func (s *LocalScheduler) Run(ctx context.Context, r Reconciler) {
	for {
		select {
		case <-ctx.Done():
			return
		case roomID := <-s.queue:
			s.mu.Lock()
			delete(s.pending, roomID)
			s.mu.Unlock()

			if _, err := r.ReconcileRoom(ctx, roomID); err != nil {
				s.logger.Warn("reconcile failed, retrying",
					zap.String("room_id", roomID),
					zap.Error(err),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(localRetryDelay):
				}
				if _, err := r.ReconcileRoom(ctx, roomID); err != nil {
					s.logger.Error("reconcile failed", zap.String("room_id", roomID), zap.Error(err))
				}
			}
		}
	}
}
