package task

import (
	"Parley/internal/service"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type reconcilerStub struct {
	mu    sync.Mutex
	rooms []string
	err   error
	done  chan string
}

func (r *reconcilerStub) ReconcileRoom(_ context.Context, roomID string) (*service.ReconcileResult, error) {
	r.mu.Lock()
	r.rooms = append(r.rooms, roomID)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- roomID
	}
	return &service.ReconcileResult{RoomID: roomID}, r.err
}

func TestNewReconcileTask(t *testing.T) {
	if _, err := NewReconcileTask(""); err == nil {
		t.Fatalf("expected error for empty room id")
	}
	task, err := NewReconcileTask("group:1")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TypeRoomReconcile {
		t.Fatalf("unexpected type %q", task.Type())
	}
	var p ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.RoomID != "group:1" {
		t.Fatalf("unexpected payload %s", task.Payload())
	}
}

func TestReconcileHandler(t *testing.T) {
	r := &reconcilerStub{}
	h := NewReconcileHandler(r, zap.NewNop())

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeRoomReconcile, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for bad payload, got %v", err)
	}

	task, _ := NewReconcileTask("room:a_b")
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(r.rooms) != 1 || r.rooms[0] != "room:a_b" {
		t.Fatalf("expected reconcile of room:a_b, got %v", r.rooms)
	}

	r.err = &service.Error{Kind: service.KindNotFound, Message: "room not found"}
	if err := h.ProcessTask(context.Background(), task); !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for missing room, got %v", err)
	}

	r.err = errors.New("store down")
	if err := h.ProcessTask(context.Background(), task); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestLocalSchedulerCollapsesPendingRooms(t *testing.T) {
	s := NewLocalScheduler(2, zap.NewNop())
	ctx := context.Background()

	if err := s.ScheduleReconcile(ctx, "room:a_b"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleReconcile(ctx, "room:a_b"); err != nil {
		t.Fatalf("schedule duplicate: %v", err)
	}
	if s.Pending() != 1 {
		t.Fatalf("expected 1 pending room, got %d", s.Pending())
	}
	if err := s.ScheduleReconcile(ctx, "group:1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleReconcile(ctx, "group:2"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestLocalSchedulerRun(t *testing.T) {
	s := NewLocalScheduler(4, zap.NewNop())
	r := &reconcilerStub{done: make(chan string, 4)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, r)

	if err := s.ScheduleReconcile(ctx, "group:1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case roomID := <-r.done:
		if roomID != "group:1" {
			t.Fatalf("unexpected room %q", roomID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reconcile did not run")
	}
}
