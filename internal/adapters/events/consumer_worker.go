package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-milestone-escrow-service/internal/domain"
)

type Message struct {
	Topic   string
	Key     string
	Payload []byte
	raw     kafka.Message
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, msgs []Message) error
}

type EventHandler interface {
	HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) error
}

type ConsumerWorker struct {
	logger    *slog.Logger
	consumer  Consumer
	handler   EventHandler
	interval  time.Duration
	batchSize int
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler EventHandler, interval time.Duration, batchSize int) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, interval: interval, batchSize: batchSize,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processOnce handles one batch. A message that cannot be applied because of
// its content is logged and skipped; an infrastructure failure stops the batch
// before anything is committed.
func (w *ConsumerWorker) processOnce(ctx context.Context) error {
	msgs, err := w.consumer.Poll(ctx, w.batchSize)
	if err != nil {
		return err
	}
	handled := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		if err := w.handle(ctx, msg); err != nil {
			if !isPoisonMessage(err) {
				if commitErr := w.consumer.Commit(ctx, handled); commitErr != nil {
					return commitErr
				}
				return err
			}
			w.logger.WarnContext(ctx, "dropping collaborator event",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle",
				"outcome", "skipped",
				"topic", msg.Topic,
				"error", err,
			)
		}
		handled = append(handled, msg)
	}
	return w.consumer.Commit(ctx, handled)
}

func (w *ConsumerWorker) handle(ctx context.Context, msg Message) error {
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		return errors.Join(domain.ErrInvalidEnvelope, err)
	}
	if envelope.EventType == "" {
		envelope.EventType = msg.Topic
	}
	return w.handler.HandleCanonicalEvent(ctx, envelope)
}

func isPoisonMessage(err error) bool {
	return domain.IsUserError(err) ||
		errors.Is(err, domain.ErrInvalidEnvelope) ||
		errors.Is(err, domain.ErrUnsupportedEventType)
}
