package access

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/litup/indexer/pkg/logging"
)

// ContractReader is the part of the contract caller the evaluator needs.
type ContractReader interface {
	BalanceOf(ctx context.Context, account common.Address, id *big.Int) (*big.Int, error)
	HasAccess(ctx context.Context, user common.Address, postID *big.Int) (bool, error)
}

// Evaluator checks the access rule against the live contract
type Evaluator struct {
	contract ContractReader
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator(contract ContractReader) *Evaluator {
	return &Evaluator{
		contract: contract,
		logger:   logging.WithComponent("access"),
	}
}

// HasAccess reports whether user may decrypt the post. A positive token
// balance short-circuits the hasAccess call.
func (e *Evaluator) HasAccess(ctx context.Context, user common.Address, postID *big.Int) (bool, error) {
	balance, err := e.contract.BalanceOf(ctx, user, postID)
	if err != nil {
		return false, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance != nil && balance.Sign() > 0 {
		return true, nil
	}

	granted, err := e.contract.HasAccess(ctx, user, postID)
	if err != nil {
		return false, fmt.Errorf("failed to read access grant: %w", err)
	}

	e.logger.Debug("Access evaluated",
		zap.String("user", user.Hex()),
		zap.String("post_id", postID.String()),
		zap.Bool("granted", granted))
	return granted, nil
}
