package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/chain"
	"github.com/litup/indexer/internal/contract"
	"github.com/litup/indexer/internal/metrics"
	"github.com/litup/indexer/internal/store"
	"github.com/litup/indexer/pkg/config"
	"github.com/litup/indexer/pkg/logging"
)

// fetchError marks node failures, which are retried on the next round.
// Every other error from a round halts the sync.
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// Sync follows the chain and feeds confirmed blocks to the block processor
type Sync struct {
	config         config.IndexerConfig
	contract       common.Address
	source         chain.LogSource
	decoder        *contract.Decoder
	store          store.Store
	blockProcessor *BlockProcessor
	logger         *zap.Logger
}

// NewSync creates a new sync manager. publisher may be nil.
func NewSync(cfg *config.Config, source chain.LogSource, st store.Store, publisher ChangePublisher) (*Sync, error) {
	if !common.IsHexAddress(cfg.Chain.ContractAddress) {
		return nil, fmt.Errorf("contract_address is required")
	}

	decoder, err := contract.NewDecoder()
	if err != nil {
		return nil, err
	}

	return &Sync{
		config:         cfg.Indexer,
		contract:       common.HexToAddress(cfg.Chain.ContractAddress),
		source:         source,
		decoder:        decoder,
		store:          st,
		blockProcessor: NewBlockProcessor(st, publisher),
		logger:         logging.WithComponent("indexer"),
	}, nil
}

// Run syncs until ctx is cancelled or a block fails to process
func (s *Sync) Run(ctx context.Context) error {
	s.logger.Info("Starting indexer sync",
		zap.String("contract", s.contract.Hex()),
		zap.Uint64("start_block", s.config.StartBlock),
		zap.Uint64("confirmations", s.config.Confirmations))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		caughtUp, err := s.SyncOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var fe *fetchError
			if errors.As(err, &fe) {
				s.logger.Error("Failed to fetch from node", zap.Error(err))
				s.wait(ctx, s.config.PollInterval)
				continue
			}
			s.logger.Error("Indexer halted", zap.Error(err))
			return err
		}

		if caughtUp {
			s.wait(ctx, s.config.PollInterval)
		}
	}
}

// SyncOnce processes at most one batch of confirmed blocks past the cursor.
// It reports whether the cursor has reached the confirmed head.
func (s *Sync) SyncOnce(ctx context.Context) (bool, error) {
	head, err := s.source.BlockNumber(ctx)
	if err != nil {
		return false, &fetchError{fmt.Errorf("failed to get head block: %w", err)}
	}
	if head < s.config.Confirmations {
		return true, nil
	}
	target := head - s.config.Confirmations

	cursor, err := s.cursor(ctx)
	if err != nil {
		return false, err
	}
	if cursor >= target {
		metrics.HeadLag.Set(0)
		s.logger.Debug("Already synced to confirmed head",
			zap.Uint64("cursor", cursor),
			zap.Uint64("target", target))
		return true, nil
	}
	metrics.HeadLag.Set(float64(target - cursor))

	from := cursor + 1
	to := target
	if s.config.MaxBatch > 0 && to-from+1 > uint64(s.config.MaxBatch) {
		to = from + uint64(s.config.MaxBatch) - 1
	}

	blocks, err := s.fetchRange(ctx, from, to)
	if err != nil {
		return false, err
	}

	for _, block := range blocks {
		if _, err := s.blockProcessor.ProcessBlock(ctx, block); err != nil {
			return false, fmt.Errorf("failed to process block %d: %w", block.Number, err)
		}
	}

	s.logger.Debug("Synced block batch",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("blocks", len(blocks)))

	return to >= target, nil
}

// cursor returns the last processed block, or start_block-1 before the first.
func (s *Sync) cursor(ctx context.Context) (uint64, error) {
	state, err := s.store.LoadState(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load sync state: %w", err)
	}
	if state != nil {
		return state.BlockNum, nil
	}
	if s.config.StartBlock > 0 {
		return s.config.StartBlock - 1, nil
	}
	return 0, nil
}

// fetchRange returns the blocks in [from, to] that carry contract events, in
// ascending order, followed by block `to` itself so the cursor always reaches
// the end of the range.
func (s *Sync) fetchRange(ctx context.Context, from, to uint64) ([]Block, error) {
	logs, err := s.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{s.decoder.Topics()},
	})
	if err != nil {
		return nil, &fetchError{fmt.Errorf("failed to fetch logs %d-%d: %w", from, to, err)}
	}

	byBlock := make(map[uint64][]types.Log)
	for _, log := range logs {
		if log.Removed {
			continue
		}
		byBlock[log.BlockNumber] = append(byBlock[log.BlockNumber], log)
	}

	numbers := make([]uint64, 0, len(byBlock)+1)
	for num := range byBlock {
		numbers = append(numbers, num)
	}
	if _, ok := byBlock[to]; !ok {
		numbers = append(numbers, to)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	blocks := make([]Block, 0, len(numbers))
	for _, num := range numbers {
		header, err := s.source.HeaderByNumber(ctx, new(big.Int).SetUint64(num))
		if err != nil {
			return nil, &fetchError{fmt.Errorf("failed to get header %d: %w", num, err)}
		}
		if header == nil {
			return nil, &fetchError{fmt.Errorf("header %d not found", num)}
		}

		block := Block{
			Number:    num,
			Hash:      header.Hash().Hex(),
			Timestamp: header.Time,
		}

		blockLogs := byBlock[num]
		sort.Slice(blockLogs, func(i, j int) bool {
			if blockLogs[i].TxIndex != blockLogs[j].TxIndex {
				return blockLogs[i].TxIndex < blockLogs[j].TxIndex
			}
			return blockLogs[i].Index < blockLogs[j].Index
		})

		for _, log := range blockLogs {
			ev, err := s.decoder.Decode(log, header.Time)
			if errors.Is(err, contract.ErrUnknownTopic) {
				s.logger.Debug("Skipping unknown log",
					zap.Uint64("block", num),
					zap.String("tx_hash", log.TxHash.Hex()),
					zap.Uint("log_index", log.Index))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("block %d tx %s log %d: %w", num, log.TxHash.Hex(), log.Index, err)
			}
			block.Events = append(block.Events, ev)
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

// wait waits for the specified duration or until context is cancelled
func (s *Sync) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 3 * time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		return
	}
}
