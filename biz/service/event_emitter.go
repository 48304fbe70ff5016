package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/segmentio/kafka-go"

	kafkaDal "cex-core/biz/dal/kafka"
)

// Lifecycle event types delivered to external collaborators.
const (
	EventOrderCreated   = "orderCreated"
	EventOrderFilled    = "orderFilled"
	EventOrderCancelled = "orderCancelled"
)

// EventEmitter receives lifecycle events. Calls are fire-and-forget: the
// core never waits on delivery and a failed emit never fails a settlement.
type EventEmitter interface {
	Notify(userID, eventType string, payload any)
}

// Unicaster 单播回调类型
type Unicaster func(userID string, msg []byte)

type eventEnvelope struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// KafkaEmitter publishes events through an async kafka writer and, when a
// unicaster is attached, pushes the same envelope to the user's live
// websocket connections.
type KafkaEmitter struct {
	topic     string
	unicaster Unicaster
}

func NewKafkaEmitter(topic string, unicaster Unicaster) *KafkaEmitter {
	return &KafkaEmitter{topic: topic, unicaster: unicaster}
}

func (e *KafkaEmitter) Notify(userID, eventType string, payload any) {
	msg, err := json.Marshal(eventEnvelope{
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		hlog.Errorf("event: marshal %s failed: %v", eventType, err)
		return
	}

	writer := kafkaDal.GetWriter(e.topic)
	if writer != nil {
		// writer runs with Async=true, WriteMessages only enqueues
		if err := writer.WriteMessages(context.Background(), kafka.Message{
			Key:   []byte(userID),
			Value: msg,
		}); err != nil {
			hlog.Errorf("event: kafka publish %s failed: %v", eventType, err)
		}
	}

	if e.unicaster != nil {
		e.unicaster(userID, msg)
	}
}

// NopEmitter swallows events; used where delivery is wired off.
type NopEmitter struct{}

func (NopEmitter) Notify(string, string, any) {}
