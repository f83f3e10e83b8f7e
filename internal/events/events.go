// Package events defines the typed contract events consumed by the projector.
package events

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformed is returned when a required event field is missing or out of range.
var ErrMalformed = errors.New("malformed event")

// Kind names an event type as emitted by the contract.
type Kind string

const (
	KindPostCreated  Kind = "PostCreated"
	KindPurchased    Kind = "Purchased"
	KindPriceUpdated Kind = "PriceUpdated"
	KindPostHidden   Kind = "PostHidden"
)

// Meta is the block and transaction position shared by every event.
type Meta struct {
	BlockNumber    uint64
	BlockHash      string
	BlockTimestamp uint64
	TxHash         string
	TxIndex        uint
	LogIndex       uint
}

// Event is implemented by all four event records.
type Event interface {
	Kind() Kind
	Metadata() Meta
}

// PostCreated is emitted once per post by createPost.
type PostCreated struct {
	Meta
	PostID       *big.Int
	Creator      common.Address
	Price        *big.Int
	PreviewURI   string
	EncryptedURI string
	MaxSupply    *big.Int
}

// Purchased is emitted by purchase; Amount units were bought for TotalPaid.
type Purchased struct {
	Meta
	PostID       *big.Int
	Buyer        common.Address
	Amount       *big.Int
	TotalPaid    *big.Int
	PricePerUnit *big.Int
}

// PriceUpdated is emitted by updatePrice.
type PriceUpdated struct {
	Meta
	PostID *big.Int
	Price  *big.Int
}

// PostHidden is emitted by hidePost with the new visibility flag.
type PostHidden struct {
	Meta
	PostID *big.Int
	Hidden bool
}

func (*PostCreated) Kind() Kind  { return KindPostCreated }
func (*Purchased) Kind() Kind    { return KindPurchased }
func (*PriceUpdated) Kind() Kind { return KindPriceUpdated }
func (*PostHidden) Kind() Kind   { return KindPostHidden }

func (e *PostCreated) Metadata() Meta  { return e.Meta }
func (e *Purchased) Metadata() Meta    { return e.Meta }
func (e *PriceUpdated) Metadata() Meta { return e.Meta }
func (e *PostHidden) Metadata() Meta   { return e.Meta }

// PostID derives the entity id of a post: the decimal form of the on-chain id.
func PostID(postID *big.Int) (string, error) {
	if postID == nil || postID.Sign() < 0 {
		return "", fmt.Errorf("%w: post id %v", ErrMalformed, postID)
	}
	return postID.String(), nil
}

// PurchaseID derives the entity id of a purchase from its log position.
func PurchaseID(txHash string, logIndex uint) string {
	return txHash + "-" + strconv.FormatUint(uint64(logIndex), 10)
}

// Less orders events by block number, then transaction index, then log index.
func Less(a, b Meta) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	if a.TxIndex != b.TxIndex {
		return a.TxIndex < b.TxIndex
	}
	return a.LogIndex < b.LogIndex
}
