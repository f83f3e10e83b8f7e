package indexer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/litup/indexer/internal/events"
	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/internal/store/memory"
)

type recordingPublisher struct {
	blocks  []uint64
	changes [][]Change
	err     error
}

func (r *recordingPublisher) PublishChanges(_ context.Context, blockNum uint64, changes []Change) error {
	r.blocks = append(r.blocks, blockNum)
	r.changes = append(r.changes, append([]Change(nil), changes...))
	return r.err
}

func at(ev events.Event, block uint64, txIndex, logIndex uint) events.Event {
	meta := events.Meta{BlockNumber: block, BlockTimestamp: 1000 + block, TxHash: "0xT", TxIndex: txIndex, LogIndex: logIndex}
	switch e := ev.(type) {
	case *events.PostCreated:
		e.Meta = meta
	case *events.Purchased:
		e.Meta = meta
	case *events.PriceUpdated:
		e.Meta = meta
	case *events.PostHidden:
		e.Meta = meta
	}
	return ev
}

func TestBlockProcessor_OrdersEventsWithinBlock(t *testing.T) {
	st := memory.New()
	bp := NewBlockProcessor(st, nil)

	// delivered out of order: the purchase must still see the created post
	block := Block{
		Number: 10,
		Hash:   "0xh10",
		Events: []events.Event{
			at(purchased(7, 3, 3000, 1000, 0, "", 0), 10, 1, 4),
			at(postCreated(7, 1000, 0, 0), 10, 0, 2),
			at(&events.PriceUpdated{PostID: big.NewInt(7), Price: big.NewInt(500)}, 10, 1, 5),
		},
	}

	applied, err := bp.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	assert.True(t, applied)

	post := loadPost(t, st, "7")
	require.NotNil(t, post)
	assert.Equal(t, "3", post.Minted.String())
	assert.Equal(t, "500", post.Price.String())
	assert.Equal(t, uint64(1010), post.CreatedAt)

	state, err := st.LoadState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint64(10), state.BlockNum)
	assert.Equal(t, "0xh10", state.BlockHash)
}

func TestBlockProcessor_SkipsIndexedBlocks(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	bp := NewBlockProcessor(st, pub)
	ctx := context.Background()

	block := Block{
		Number: 5,
		Events: []events.Event{
			at(postCreated(1, 10, 0, 0), 5, 0, 0),
			at(purchased(1, 2, 20, 10, 0, "", 0), 5, 0, 1),
		},
	}

	applied, err := bp.ProcessBlock(ctx, block)
	require.NoError(t, err)
	assert.True(t, applied)

	// redelivery of the same block must not double count
	applied, err = bp.ProcessBlock(ctx, block)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = bp.ProcessBlock(ctx, Block{Number: 3})
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, "2", loadPost(t, st, "1").Minted.String())
	assert.Equal(t, []uint64{5}, pub.blocks)
}

func TestBlockProcessor_PublishesDedupedChanges(t *testing.T) {
	pub := &recordingPublisher{}
	bp := NewBlockProcessor(memory.New(), pub)

	_, err := bp.ProcessBlock(context.Background(), Block{
		Number: 1,
		Events: []events.Event{
			at(postCreated(7, 1000, 0, 0), 1, 0, 0),
			at(purchased(7, 1, 1000, 1000, 0, "", 0), 1, 0, 1),
			at(&events.PostHidden{PostID: big.NewInt(7), Hidden: true}, 1, 0, 2),
		},
	})
	require.NoError(t, err)

	require.Len(t, pub.changes, 1)
	assert.Equal(t, []Change{
		{models.EntityPost, "7"},
		{models.EntityPurchase, "0xT-1"},
	}, pub.changes[0])
}

func TestBlockProcessor_EmptyBlockAdvancesCursor(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	bp := NewBlockProcessor(st, pub)

	applied, err := bp.ProcessBlock(context.Background(), Block{Number: 42, Hash: "0xh42"})
	require.NoError(t, err)
	assert.True(t, applied)

	state, err := st.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), state.BlockNum)
	assert.Empty(t, pub.blocks, "nothing to publish")
}

func TestBlockProcessor_PublishErrorIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	bp := NewBlockProcessor(memory.New(), pub)

	applied, err := bp.ProcessBlock(context.Background(), Block{
		Number: 1,
		Events: []events.Event{at(postCreated(1, 1, 0, 0), 1, 0, 0)},
	})
	assert.NoError(t, err)
	assert.True(t, applied)
}

func TestBlockProcessor_FailureRollsBackBlock(t *testing.T) {
	st := memory.New()
	bp := NewBlockProcessor(st, nil)

	_, err := bp.ProcessBlock(context.Background(), Block{
		Number: 1,
		Events: []events.Event{
			at(postCreated(1, 1, 0, 0), 1, 0, 0),
			at(&events.PriceUpdated{PostID: big.NewInt(1)}, 1, 0, 1),
		},
	})
	require.ErrorIs(t, err, events.ErrMalformed)

	assert.Empty(t, st.Snapshot().Posts)
	state, err := st.LoadState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestBlockProcessor_RecordsChangesPerEntity(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	ctx := context.Background()
	bp := NewBlockProcessor(memory.New(), nil)
	_, err := bp.ProcessBlock(ctx, Block{
		Number: 5,
		Hash:   "0xh5",
		Events: []events.Event{
			at(postCreated(7, 1000, 0, 0), 5, 0, 0),
			at(purchased(7, 1, 1000, 1000, 0, "", 0), 5, 0, 1),
			at(purchased(7, 2, 2000, 1000, 0, "", 0), 5, 1, 2),
		},
	})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "litup.block.changes" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[int64])
			require.True(t, ok, "unexpected data type %T", m.Data)
			for _, dp := range hist.DataPoints {
				entity, _ := dp.Attributes.Value("entity")
				sums[entity.AsString()] += dp.Sum
			}
		}
	}
	assert.Equal(t, map[string]int64{models.EntityPost: 1, models.EntityPurchase: 2}, sums)
}

func TestDedupeChanges(t *testing.T) {
	in := []Change{{"Post", "1"}, {"Purchase", "a"}, {"Post", "1"}, {"Post", "2"}}
	assert.Equal(t, []Change{{"Post", "1"}, {"Purchase", "a"}, {"Post", "2"}}, dedupeChanges(in))
}
