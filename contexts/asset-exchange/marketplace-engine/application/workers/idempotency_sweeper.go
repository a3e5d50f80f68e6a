package workers

import (
	"context"
	"log/slog"
	"time"

	application "metamarket/contexts/asset-exchange/marketplace-engine/application"
	"metamarket/contexts/asset-exchange/marketplace-engine/ports"
)

// IdempotencySweeper drops expired idempotency records so replay windows
// stay bounded.
type IdempotencySweeper struct {
	Idempotency ports.IdempotencyStore
	Clock       ports.Clock
	Logger      *slog.Logger
}

func (s IdempotencySweeper) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	purged, err := s.Idempotency.PurgeExpiredRecords(ctx, now)
	if err != nil {
		application.ResolveLogger(s.Logger).Error("idempotency purge failed",
			"event", "marketplace_idempotency_purge_failed",
			"module", "asset-exchange/marketplace-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if purged > 0 {
		application.ResolveLogger(s.Logger).Info("idempotency records purged",
			"event", "marketplace_idempotency_purged",
			"module", "asset-exchange/marketplace-engine",
			"layer", "worker",
			"purged_count", purged,
		)
	}
	return nil
}
