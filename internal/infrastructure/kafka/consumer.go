package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"creditledger/internal/infrastructure/observability"

	"github.com/segmentio/kafka-go"
)

// LedgerEvent is the envelope published to the transactions topic after a
// ledger mutation has been committed. The consumer is an audit tail: balance
// effects are applied inside the store transaction, never from here.
type LedgerEvent struct {
	EventType     string `json:"event_type"`
	TransactionID int32  `json:"transaction_id"`
	OwnerID       int32  `json:"owner_id"`
	Credits       int64  `json:"credits"`
	AmountCents   int64  `json:"amount_cents"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type AuditConsumer struct {
	reader *kafka.Reader
}

func NewAuditConsumer(brokers []string, topic, groupID string) *AuditConsumer {
	return &AuditConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
	}
}

func (c *AuditConsumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event LedgerEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal ledger event", "error", err)
			continue
		}

		observability.LedgerEventsConsumed.WithLabelValues(event.EventType).Inc()
		slog.Info("ledger event",
			"event_type", event.EventType,
			"transaction_id", event.TransactionID,
			"owner_id", event.OwnerID,
			"credits", event.Credits,
			"amount_cents", event.AmountCents,
			"status", event.Status)
	}
}

func (c *AuditConsumer) Close() error {
	return c.reader.Close()
}
