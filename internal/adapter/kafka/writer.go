// Package kafka streams alert outcomes to a Kafka topic for auditing.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/storm-alert-relay/internal/config"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
)

// OutcomeWriter produces one message per terminal alert outcome.
// It implements processor.OutcomeSink.
type OutcomeWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewOutcomeWriter creates a Kafka producer for the configured outcome topic.
func NewOutcomeWriter(cfg *config.Config, logger *slog.Logger) *OutcomeWriter {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaOutcomeTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &OutcomeWriter{writer: w, logger: logger}
}

// WriteOutcome publishes outcome keyed by alert id, so every outcome for the
// same alert lands on one partition in order.
func (w *OutcomeWriter) WriteOutcome(ctx context.Context, outcome processor.Outcome) error {
	msg, err := serializeToMessage(outcome)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write outcome %q: %w", outcome.AlertID, err)
	}
	w.logger.Debug("alert outcome written", "alert_id", outcome.AlertID, "status", outcome.Status)
	return nil
}

func (w *OutcomeWriter) Close() error {
	return w.writer.Close()
}

// OutcomeEvent is the JSON value of an outcome message.
type OutcomeEvent struct {
	AlertID           string             `json:"alertId"`
	Status            processor.Status   `json:"status"`
	Severity          string             `json:"severity"`
	Title             string             `json:"title,omitempty"`
	Error             string             `json:"error,omitempty"`
	RetryAfterSeconds float64            `json:"retryAfterSeconds,omitempty"`
	ProcessedAt       time.Time          `json:"processedAt"`
	Distribution      *DistributionEvent `json:"distribution,omitempty"`
}

// DistributionEvent summarizes direct delivery to subscribers.
type DistributionEvent struct {
	Sent        int  `json:"sent"`
	Failed      int  `json:"failed"`
	RateLimited bool `json:"rateLimited"`
}

func newOutcomeEvent(o processor.Outcome) OutcomeEvent {
	ev := OutcomeEvent{
		AlertID:           o.AlertID,
		Status:            o.Status,
		Severity:          o.Severity.String(),
		Title:             o.Title,
		RetryAfterSeconds: o.RetryAfter.Seconds(),
		ProcessedAt:       o.ProcessedAt.UTC(),
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	if d := o.Distribution; d != nil {
		ev.Distribution = &DistributionEvent{Sent: d.Sent, Failed: d.Failed, RateLimited: d.RateLimited}
	}
	return ev
}

// serializeToMessage marshals an Outcome into a Kafka message.
func serializeToMessage(o processor.Outcome) (kafkago.Message, error) {
	data, err := json.Marshal(newOutcomeEvent(o))
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.AlertID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(o.Status)},
			{Key: "processed_at", Value: []byte(o.ProcessedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
