package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqScheduler enqueues reconcile tasks in redis. Tasks for the same room
// are collapsed while one is pending.
type AsynqScheduler struct {
	client *asynq.Client
	logger *zap.Logger
}

func NewAsynqScheduler(redisURL string, logger *zap.Logger) (*AsynqScheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &AsynqScheduler{client: asynq.NewClient(opt), logger: logger}, nil
}

func (s *AsynqScheduler) ScheduleReconcile(ctx context.Context, roomID string) error {
	t, err := NewReconcileTask(roomID)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, t,
		asynq.Queue(reconcileQueue),
		asynq.MaxRetry(reconcileMaxRetry),
		asynq.Unique(reconcileUniqueIn),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("reconcile scheduled", zap.String("room_id", roomID), zap.String("task_id", info.ID))
	return nil
}

func (s *AsynqScheduler) Close() error {
	return s.client.Close()
}

// Server consumes reconcile tasks
type Server struct {
	server *asynq.Server
	logger *zap.Logger
}

func NewServer(redisURL string, concurrency int, logger *zap.Logger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{reconcileQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			logger.Error("task failed", zap.String("type", t.Type()), zap.Error(err))
		}),
	})
	return &Server{server: srv, logger: logger}, nil
}

// Run blocks until ctx is canceled, then shuts the server down
func (s *Server) Run(ctx context.Context, r Reconciler) error {
	mux := asynq.NewServeMux()
	mux.Handle(TypeRoomReconcile, NewReconcileHandler(r, s.logger))
	if err := s.server.Start(mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
