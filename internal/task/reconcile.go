// Package task runs the background repair of a room's derived state. With
// redis configured the work goes through an asynq queue; otherwise a local
// worker drains an in-process queue.
package task

import (
	"Parley/internal/service"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeRoomReconcile = "room:reconcile"

	reconcileQueue    = "maintenance"
	reconcileUniqueIn = 30 * time.Second
	reconcileMaxRetry = 5
)

// Reconciler is satisfied by service.MessageService
type Reconciler interface {
	ReconcileRoom(ctx context.Context, roomID string) (*service.ReconcileResult, error)
}

type ReconcilePayload struct {
	RoomID string `json:"roomId"`
}

func NewReconcileTask(roomID string) (*asynq.Task, error) {
	if roomID == "" {
		return nil, errors.New("task: room id is required")
	}
	payload, err := json.Marshal(ReconcilePayload{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoomReconcile, payload), nil
}

// NewReconcileHandler processes room:reconcile tasks. Malformed payloads and
// rooms that no longer exist are not retried.
func NewReconcileHandler(r Reconciler, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p ReconcilePayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.RoomID == "" {
			logger.Error("invalid reconcile payload", zap.ByteString("payload", t.Payload()))
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}
		if _, err := r.ReconcileRoom(ctx, p.RoomID); err != nil {
			if service.KindOf(err) == service.KindNotFound {
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		return nil
	}
}
