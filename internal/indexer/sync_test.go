package indexer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litup/indexer/internal/contract"
	"github.com/litup/indexer/internal/store/memory"
	"github.com/litup/indexer/pkg/config"
)

const testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

type fakeSource struct {
	head    uint64
	logs    []types.Log
	headErr error
	logsErr error

	queries []ethereum.FilterQuery
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= q.FromBlock.Uint64() && log.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: number, Time: 1000 + number.Uint64()}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{ContractAddress: testContract},
		Indexer: config.IndexerConfig{
			StartBlock:    1,
			Confirmations: 2,
			MaxBatch:      10,
			PollInterval:  time.Millisecond,
		},
	}
}

func contractLog(t *testing.T, name string, block uint64, txIndex, logIndex uint, topics []common.Hash, args ...interface{}) types.Log {
	t.Helper()
	parsed, err := contract.ParseABI()
	require.NoError(t, err)
	ev := parsed.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return types.Log{
		Address:     common.HexToAddress(testContract),
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*100 + uint64(txIndex))),
		TxIndex:     txIndex,
		Index:       logIndex,
	}
}

func postTopic(id int64) common.Hash {
	return common.BigToHash(big.NewInt(id))
}

func addrTopic(hex string) common.Hash {
	return common.BytesToHash(common.HexToAddress(hex).Bytes())
}

func TestSync_IndexesConfirmedLogs(t *testing.T) {
	source := &fakeSource{
		head: 12,
		logs: []types.Log{
			// out of order on purpose
			contractLog(t, "Purchased", 5, 1, 3, []common.Hash{postTopic(7), addrTopic("0xB")},
				big.NewInt(3), big.NewInt(3000), big.NewInt(1000)),
			contractLog(t, "PostCreated", 5, 0, 0, []common.Hash{postTopic(7), addrTopic("0xA")},
				big.NewInt(1000), "p", "e", big.NewInt(0)),
			contractLog(t, "PriceUpdated", 8, 0, 0, []common.Hash{postTopic(7)}, big.NewInt(500)),
			// beyond the confirmed head (12 - 2)
			contractLog(t, "PostHidden", 11, 0, 0, []common.Hash{postTopic(7)}, true),
		},
	}
	st := memory.New()
	s, err := NewSync(testConfig(), source, st, nil)
	require.NoError(t, err)

	caughtUp, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, caughtUp)

	post := loadPost(t, st, "7")
	require.NotNil(t, post)
	assert.Equal(t, "3", post.Minted.String())
	assert.Equal(t, "500", post.Price.String())
	assert.False(t, post.Hidden)
	assert.Equal(t, uint64(1005), post.CreatedAt)

	state, err := st.LoadState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), state.BlockNum)

	require.Len(t, source.queries, 1)
	q := source.queries[0]
	assert.Equal(t, uint64(1), q.FromBlock.Uint64())
	assert.Equal(t, uint64(10), q.ToBlock.Uint64())
	assert.Equal(t, []common.Address{common.HexToAddress(testContract)}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.Len(t, q.Topics[0], 4)
}

func TestSync_BatchesRanges(t *testing.T) {
	source := &fakeSource{head: 27}
	st := memory.New()
	s, err := NewSync(testConfig(), source, st, nil)
	require.NoError(t, err)
	ctx := context.Background()

	caughtUp, err := s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, caughtUp)

	caughtUp, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, caughtUp)

	caughtUp, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, caughtUp)

	require.Len(t, source.queries, 3)
	assert.Equal(t, uint64(11), source.queries[1].FromBlock.Uint64())
	assert.Equal(t, uint64(20), source.queries[1].ToBlock.Uint64())
	assert.Equal(t, uint64(25), source.queries[2].ToBlock.Uint64())

	// nothing new: no fetch
	caughtUp, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Len(t, source.queries, 3)
}

func TestSync_SkipsRemovedAndForeignLogs(t *testing.T) {
	removed := contractLog(t, "PostCreated", 3, 0, 0, []common.Hash{postTopic(1), addrTopic("0xA")},
		big.NewInt(1), "p", "e", big.NewInt(0))
	removed.Removed = true
	foreign := types.Log{
		BlockNumber: 3,
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		Index:       1,
	}

	source := &fakeSource{head: 5, logs: []types.Log{removed, foreign}}
	st := memory.New()
	s, err := NewSync(testConfig(), source, st, nil)
	require.NoError(t, err)

	_, err = s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Snapshot().Posts)
}

func TestSync_MalformedLogHalts(t *testing.T) {
	bad := contractLog(t, "PriceUpdated", 3, 0, 0, []common.Hash{postTopic(1)}, big.NewInt(5))
	bad.Data = bad.Data[:4]

	source := &fakeSource{head: 10, logs: []types.Log{bad}}
	st := memory.New()
	s, err := NewSync(testConfig(), source, st, nil)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)

	state, err := st.LoadState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state, "cursor must not move past a failed block")
}

func TestSync_FetchErrorIsRetried(t *testing.T) {
	source := &fakeSource{head: 10, headErr: errors.New("node down")}
	s, err := NewSync(testConfig(), source, memory.New(), nil)
	require.NoError(t, err)

	_, err = s.SyncOnce(context.Background())
	var fe *fetchError
	assert.ErrorAs(t, err, &fe)

	source.headErr = nil
	source.logsErr = errors.New("range too large")
	_, err = s.SyncOnce(context.Background())
	assert.ErrorAs(t, err, &fe)

	// Run keeps going on fetch errors and stops on cancellation
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
	assert.Greater(t, len(source.queries), 2)
}

func TestSync_ResumesFromCursor(t *testing.T) {
	source := &fakeSource{head: 12}
	st := memory.New()
	cfg := testConfig()

	s, err := NewSync(cfg, source, st, nil)
	require.NoError(t, err)
	_, err = s.SyncOnce(context.Background())
	require.NoError(t, err)

	source.head = 15
	restarted, err := NewSync(cfg, source, st, nil)
	require.NoError(t, err)
	_, err = restarted.SyncOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, source.queries, 2)
	assert.Equal(t, uint64(11), source.queries[1].FromBlock.Uint64())
	assert.Equal(t, uint64(13), source.queries[1].ToBlock.Uint64())
}

func TestSync_HeadBelowConfirmations(t *testing.T) {
	source := &fakeSource{head: 1}
	s, err := NewSync(testConfig(), source, memory.New(), nil)
	require.NoError(t, err)

	caughtUp, err := s.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Empty(t, source.queries)
}

func TestNewSync_RequiresContract(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.ContractAddress = ""
	_, err := NewSync(cfg, &fakeSource{}, memory.New(), nil)
	assert.Error(t, err)
}
