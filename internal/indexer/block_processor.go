package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/events"
	"github.com/litup/indexer/internal/metrics"
	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/internal/store"
	"github.com/litup/indexer/pkg/logging"
	"github.com/litup/indexer/pkg/telemetry"
)

// Block is the set of decoded contract events of one chain block.
type Block struct {
	Number    uint64
	Hash      string
	Timestamp uint64
	Events    []events.Event
}

// ChangePublisher is notified of the entities written by each committed block.
type ChangePublisher interface {
	PublishChanges(ctx context.Context, blockNum uint64, changes []Change) error
}

// BlockProcessor projects blocks into the store one transaction per block
type BlockProcessor struct {
	store     store.Store
	projector *Projector
	publisher ChangePublisher
	logger    *zap.Logger

	// entity changes per committed block, by entity
	changeSizes metric.Int64Histogram
}

// NewBlockProcessor creates a new block processor. publisher may be nil.
func NewBlockProcessor(st store.Store, publisher ChangePublisher) *BlockProcessor {
	logger := logging.WithComponent("block-processor")

	changeSizes, err := telemetry.Meter().Int64Histogram("litup.block.changes",
		metric.WithDescription("Entities written by one committed block"),
		metric.WithUnit("{entity}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100))
	if err != nil {
		logger.Warn("Failed to create block changes histogram", zap.Error(err))
	}

	return &BlockProcessor{
		store:       st,
		projector:   NewProjector(logger),
		publisher:   publisher,
		logger:      logger,
		changeSizes: changeSizes,
	}
}

// ProcessBlock applies the block's events in log order and advances the
// cursor, all in one transaction. Blocks at or below the cursor are ignored,
// so a block can be delivered more than once. It reports whether the block
// was applied.
func (bp *BlockProcessor) ProcessBlock(ctx context.Context, block Block) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "indexer.ProcessBlock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("block.number", int64(block.Number)),
		attribute.Int("block.events", len(block.Events)),
	)

	start := time.Now()
	var (
		applied bool
		changes []Change
	)

	err := bp.store.Atomic(ctx, func(tx store.Store) error {
		state, err := tx.LoadState(ctx)
		if err != nil {
			return fmt.Errorf("failed to load sync state: %w", err)
		}
		if state != nil && block.Number <= state.BlockNum {
			bp.logger.Debug("Block already indexed",
				zap.Uint64("block", block.Number),
				zap.Uint64("cursor", state.BlockNum))
			return nil
		}

		ordered := make([]events.Event, len(block.Events))
		copy(ordered, block.Events)
		sort.SliceStable(ordered, func(i, j int) bool {
			return events.Less(ordered[i].Metadata(), ordered[j].Metadata())
		})

		for _, ev := range ordered {
			out, err := bp.projector.Apply(ctx, tx, ev)
			if err != nil {
				meta := ev.Metadata()
				return fmt.Errorf("block %d tx %s log %d (%s): %w",
					block.Number, meta.TxHash, meta.LogIndex, ev.Kind(), err)
			}
			changes = append(changes, out.Changes...)
		}

		if err := tx.SaveState(ctx, &models.SyncState{
			ID:        models.SyncStateID,
			BlockNum:  block.Number,
			BlockHash: block.Hash,
			BlockTime: block.Timestamp,
		}); err != nil {
			return fmt.Errorf("failed to save sync state: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !applied {
		return false, nil
	}

	metrics.BlocksProcessed.Inc()
	metrics.BlockDuration.Observe(time.Since(start).Seconds())
	metrics.IndexedBlock.Set(float64(block.Number))

	changes = dedupeChanges(changes)
	bp.recordChanges(ctx, changes)
	if len(block.Events) > 0 {
		bp.logger.Debug("Processed block",
			zap.Uint64("block", block.Number),
			zap.Int("events", len(block.Events)),
			zap.Int("changes", len(changes)))
	}

	if bp.publisher != nil && len(changes) > 0 {
		if err := bp.publisher.PublishChanges(ctx, block.Number, changes); err != nil {
			metrics.PublishErrors.Inc()
			bp.logger.Warn("Failed to publish entity changes",
				zap.Uint64("block", block.Number),
				zap.Error(err))
		}
	}

	return true, nil
}

func (bp *BlockProcessor) recordChanges(ctx context.Context, changes []Change) {
	if bp.changeSizes == nil {
		return
	}
	perEntity := map[string]int64{models.EntityPost: 0, models.EntityPurchase: 0}
	for _, c := range changes {
		perEntity[c.Entity]++
	}
	for entity, n := range perEntity {
		bp.changeSizes.Record(ctx, n, metric.WithAttributes(attribute.String("entity", entity)))
	}
}

// dedupeChanges keeps the first occurrence of every entity.
func dedupeChanges(changes []Change) []Change {
	if len(changes) < 2 {
		return changes
	}
	seen := make(map[Change]struct{}, len(changes))
	out := changes[:0]
	for _, c := range changes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
