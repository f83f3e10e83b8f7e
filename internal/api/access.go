package api

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/litup/indexer/internal/access"
	"github.com/litup/indexer/internal/models"
)

// AccessChecker evaluates the content access rule on-chain.
type AccessChecker interface {
	HasAccess(ctx context.Context, user common.Address, postID *big.Int) (bool, error)
}

// StateReader returns the indexer cursor.
type StateReader interface {
	Get(ctx context.Context) (*models.SyncState, error)
}

// AccessAPI provides litup.has_access
type AccessAPI struct {
	checker AccessChecker
}

// NewAccessAPI creates a new access API
func NewAccessAPI(checker AccessChecker) *AccessAPI {
	return &AccessAPI{checker: checker}
}

// HasAccess handles litup.has_access
func (a *AccessAPI) HasAccess(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	user, err := p.address("user")
	if err != nil {
		return nil, err
	}
	postID, err := p.postID("post_id")
	if err != nil {
		return nil, err
	}

	ok, err := a.checker.HasAccess(ctx.Request.Context(), common.HexToAddress(user), postID)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"user":       user,
		"post_id":    postID.String(),
		"has_access": ok,
	}, nil
}

// ConditionsAPI provides litup.get_access_conditions
type ConditionsAPI struct {
	contract common.Address
	chain    string
}

// NewConditionsAPI creates a conditions API for the deployed contract
func NewConditionsAPI(contract common.Address, chain string) *ConditionsAPI {
	return &ConditionsAPI{contract: contract, chain: chain}
}

// GetAccessConditions handles litup.get_access_conditions. The result is the
// condition array clients hand to the threshold network when decrypting.
func (a *ConditionsAPI) GetAccessConditions(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	postID, err := p.postID("post_id")
	if err != nil {
		return nil, err
	}

	conds, err := access.ConditionsJSON(a.contract, a.chain, postID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(conds), nil
}
