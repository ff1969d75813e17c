package collector

import (
	"context"
	"time"

	models "github.com/tellor-io/supplyx/pkg/db/models/timeline"
	"go.uber.org/zap"
)

// SnapshotEvent announces a stored snapshot to downstream consumers (the
// query service's live feed, dashboards).
type SnapshotEvent struct {
	SettlementTs    uint64    `json:"settlement_ts"`
	SettlementBlock uint64    `json:"settlement_block"`
	Completeness    float64   `json:"completeness"`
	CollectedAt     time.Time `json:"collected_at"`
}

// Publisher delivers snapshot events. Implemented by *redis.Client.
type Publisher interface {
	PublishSnapshot(ctx context.Context, event SnapshotEvent) error
}

// publish emits a snapshot event when a publisher is configured. Event
// delivery is best effort; a broker outage never fails a collection.
func (c *Collector) publish(ctx context.Context, s *models.UnifiedSnapshot) {
	if c.Publisher == nil {
		return
	}
	event := SnapshotEvent{
		SettlementTs:    s.SettlementTs,
		SettlementBlock: s.SettlementBlock,
		Completeness:    s.Completeness,
		CollectedAt:     s.CollectedAt,
	}
	if err := c.Publisher.PublishSnapshot(ctx, event); err != nil {
		c.Logger.Warn("Failed to publish snapshot event",
			zap.Uint64("settlement_ts", s.SettlementTs), zap.Error(err))
	}
}
