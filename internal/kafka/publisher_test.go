package kafka

import (
	"Parley/internal/model"
	"context"
	"encoding/json"
	"testing"
	"time"

	k "github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs   []k.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...k.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishMessageCreated(t *testing.T) {
	w := &recordingWriter{}
	p := newPublisher(w, zap.NewNop())

	msg := &model.Message{
		ID:        primitive.NewObjectID(),
		SenderID:  "u1",
		RoomID:    "room:alice_bob",
		Text:      "hi",
		Status:    model.MessageSent,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := p.PublishMessageCreated(context.Background(), msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != msg.RoomID {
		t.Fatalf("expected key %q, got %q", msg.RoomID, w.msgs[0].Key)
	}

	var got MessageCreated
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != EventMessageCreated || got.MessageID != msg.ID.Hex() || got.Text != "hi" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed")
	}
}
