package kafka

import (
	"Parley/internal/model"
	"context"
	"encoding/json"
	"time"

	k "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventMessageCreated = "message.created"

// MessageCreated is the record written for every persisted message
type MessageCreated struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...k.Message) error
	Close() error
}

type Publisher struct {
	w      Writer
	logger *zap.Logger
}

// NewPublisher writes to topic asynchronously; records are keyed by room id
// so one room's events stay on one partition.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &k.Writer{
		Addr:         k.TCP(brokers...),
		Topic:        topic,
		Balancer:     &k.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: k.RequireOne,
		Async:        true,
		Completion: func(messages []k.Message, err error) {
			if err != nil {
				logger.Warn("kafka write failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
	return newPublisher(w, logger)
}

func newPublisher(w Writer, logger *zap.Logger) *Publisher {
	return &Publisher{w: w, logger: logger}
}

func (p *Publisher) PublishMessageCreated(ctx context.Context, msg *model.Message) error {
	value, err := json.Marshal(MessageCreated{
		Type:      EventMessageCreated,
		MessageID: msg.ID.Hex(),
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, k.Message{
		Key:   []byte(msg.RoomID),
		Value: value,
		Time:  msg.CreatedAt,
	})
}

func (p *Publisher) Close() error { return p.w.Close() }
