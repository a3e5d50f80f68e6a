package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "metamarket/contexts/asset-exchange/marketplace-engine/application"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

// OutboxRelay drains pending outbox rows and publishes them to the event bus.
// Publishing is at-least-once; consumers dedupe on event_id.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	Topic     string
	BatchSize int
	Logger    *slog.Logger
}

func (r OutboxRelay) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	topic := r.Topic
	if topic == "" {
		topic = "marketplace.events"
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("outbox list pending failed",
			"event", "marketplace_outbox_list_failed",
			"module", "asset-exchange/marketplace-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, message := range pending {
		var envelope ports.EventEnvelope
		if err := json.Unmarshal(message.Payload, &envelope); err != nil {
			logger.Error("outbox payload decode failed",
				"event", "marketplace_outbox_decode_failed",
				"module", "asset-exchange/marketplace-engine",
				"layer", "worker",
				"outbox_id", message.OutboxID,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Publisher.Publish(ctx, topic, envelope); err != nil {
			logger.Error("outbox publish failed",
				"event", "marketplace_outbox_publish_failed",
				"module", "asset-exchange/marketplace-engine",
				"layer", "worker",
				"outbox_id", message.OutboxID,
				"event_type", envelope.EventType,
				"error", err.Error(),
			)
			return err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, message.OutboxID, now); err != nil {
			logger.Error("outbox mark published failed",
				"event", "marketplace_outbox_mark_published_failed",
				"module", "asset-exchange/marketplace-engine",
				"layer", "worker",
				"outbox_id", message.OutboxID,
				"error", err.Error(),
			)
			return err
		}
	}

	if len(pending) > 0 {
		logger.Info("outbox relay cycle completed",
			"event", "marketplace_outbox_relay_completed",
			"module", "asset-exchange/marketplace-engine",
			"layer", "worker",
			"published_count", len(pending),
		)
	}
	return nil
}
