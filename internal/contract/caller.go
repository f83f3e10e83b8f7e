package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Caller performs read-only calls against the deployed contract.
type Caller struct {
	address common.Address
	abi     abi.ABI
	caller  bind.ContractCaller
}

// NewCaller creates a Caller for the contract at address.
func NewCaller(address common.Address, caller bind.ContractCaller) (*Caller, error) {
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}
	return &Caller{address: address, abi: parsed, caller: caller}, nil
}

func (c *Caller) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}

	result, err := c.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// NextPostID returns the id the next created post will get.
func (c *Caller) NextPostID(ctx context.Context) (*big.Int, error) {
	values, err := c.call(ctx, "nextPostId")
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// BalanceOf returns the number of access tokens account holds for post id.
func (c *Caller) BalanceOf(ctx context.Context, account common.Address, id *big.Int) (*big.Int, error) {
	values, err := c.call(ctx, "balanceOf", account, id)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// HasAccess reports whether the contract grants user access to the post.
func (c *Caller) HasAccess(ctx context.Context, user common.Address, postID *big.Int) (bool, error) {
	values, err := c.call(ctx, "hasAccess", user, postID)
	if err != nil {
		return false, err
	}
	ok, _ := values[0].(bool)
	return ok, nil
}
