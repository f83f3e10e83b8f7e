// Package contract provides ABI bindings for the LitUp access contract.
package contract

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/litup/indexer/internal/events"
)

// ErrUnknownTopic is returned for logs that are not one of the indexed events.
var ErrUnknownTopic = errors.New("unknown event topic")

// LitUpABI is the ABI of the LitUp access contract.
//
//	event PostCreated(uint256 indexed postId, address indexed creator, uint256 price, string previewUri, string encryptedUri, uint256 maxSupply);
//	event Purchased(uint256 indexed postId, address indexed buyer, uint256 amount, uint256 totalPaid, uint256 pricePerUnit);
//	event PriceUpdated(uint256 indexed postId, uint256 price);
//	event PostHidden(uint256 indexed postId, bool hidden);
const LitUpABI = `[
	{
		"type": "error",
		"name": "PostIsHidden",
		"inputs": []
	},
	{
		"type": "function",
		"name": "nextPostId",
		"inputs": [],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "createPost",
		"inputs": [
			{"name": "previewUri", "type": "string"},
			{"name": "encryptedUri", "type": "string"},
			{"name": "price", "type": "uint256"},
			{"name": "maxSupply", "type": "uint256"}
		],
		"outputs": [{"name": "postId", "type": "uint256"}],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "purchase",
		"inputs": [
			{"name": "postId", "type": "uint256"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "payable"
	},
	{
		"type": "function",
		"name": "updatePrice",
		"inputs": [
			{"name": "postId", "type": "uint256"},
			{"name": "price", "type": "uint256"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "hidePost",
		"inputs": [
			{"name": "postId", "type": "uint256"},
			{"name": "hidden", "type": "bool"}
		],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "getPost",
		"inputs": [{"name": "postId", "type": "uint256"}],
		"outputs": [
			{"name": "creator", "type": "address"},
			{"name": "price", "type": "uint256"},
			{"name": "maxSupply", "type": "uint256"},
			{"name": "minted", "type": "uint256"},
			{"name": "previewUri", "type": "string"},
			{"name": "encryptedUri", "type": "string"},
			{"name": "hidden", "type": "bool"}
		],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "emergencyShutdown",
		"inputs": [{"name": "pause", "type": "bool"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	},
	{
		"type": "function",
		"name": "balanceOf",
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "id", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "hasAccess",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "postId", "type": "uint256"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view"
	},
	{
		"type": "event",
		"name": "PostCreated",
		"inputs": [
			{"name": "postId", "type": "uint256", "indexed": true},
			{"name": "creator", "type": "address", "indexed": true},
			{"name": "price", "type": "uint256", "indexed": false},
			{"name": "previewUri", "type": "string", "indexed": false},
			{"name": "encryptedUri", "type": "string", "indexed": false},
			{"name": "maxSupply", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "Purchased",
		"inputs": [
			{"name": "postId", "type": "uint256", "indexed": true},
			{"name": "buyer", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "totalPaid", "type": "uint256", "indexed": false},
			{"name": "pricePerUnit", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "PriceUpdated",
		"inputs": [
			{"name": "postId", "type": "uint256", "indexed": true},
			{"name": "price", "type": "uint256", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "PostHidden",
		"inputs": [
			{"name": "postId", "type": "uint256", "indexed": true},
			{"name": "hidden", "type": "bool", "indexed": false}
		]
	}
]`

var eventOrder = []events.Kind{
	events.KindPostCreated,
	events.KindPurchased,
	events.KindPriceUpdated,
	events.KindPostHidden,
}

// ParseABI parses LitUpABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(LitUpABI))
}

// Decoder turns raw contract logs into typed events.
type Decoder struct {
	abi    abi.ABI
	byID   map[common.Hash]abi.Event
	topics []common.Hash
}

// NewDecoder creates a decoder for the LitUp events.
func NewDecoder() (*Decoder, error) {
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	d := &Decoder{
		abi:  parsed,
		byID: make(map[common.Hash]abi.Event, len(eventOrder)),
	}
	for _, kind := range eventOrder {
		ev, ok := parsed.Events[string(kind)]
		if !ok {
			return nil, fmt.Errorf("event %s missing from ABI", kind)
		}
		d.byID[ev.ID] = ev
		d.topics = append(d.topics, ev.ID)
	}
	return d, nil
}

// Topics returns the topic0 of every decoded event, for log filters.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, len(d.topics))
	copy(out, d.topics)
	return out
}

// Topic returns the topic0 of the named event.
func (d *Decoder) Topic(kind events.Kind) common.Hash {
	return d.abi.Events[string(kind)].ID
}

// Decode decodes one log. blockTimestamp is the unix time of the log's block.
func (d *Decoder) Decode(log types.Log, blockTimestamp uint64) (events.Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownTopic
	}
	ev, ok := d.byID[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, log.Topics[0].Hex())
	}

	indexed := 0
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	if len(log.Topics) != indexed+1 {
		return nil, fmt.Errorf("%w: %s has %d topics, want %d", events.ErrMalformed, ev.Name, len(log.Topics), indexed+1)
	}

	values, err := ev.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", events.ErrMalformed, ev.Name, err)
	}

	meta := events.Meta{
		BlockNumber:    log.BlockNumber,
		BlockHash:      log.BlockHash.Hex(),
		BlockTimestamp: blockTimestamp,
		TxHash:         log.TxHash.Hex(),
		TxIndex:        log.TxIndex,
		LogIndex:       log.Index,
	}
	postID := new(big.Int).SetBytes(log.Topics[1].Bytes())

	switch events.Kind(ev.Name) {
	case events.KindPostCreated:
		return &events.PostCreated{
			Meta:         meta,
			PostID:       postID,
			Creator:      common.BytesToAddress(log.Topics[2].Bytes()),
			Price:        bigAt(values, 0),
			PreviewURI:   stringAt(values, 1),
			EncryptedURI: stringAt(values, 2),
			MaxSupply:    bigAt(values, 3),
		}, nil
	case events.KindPurchased:
		return &events.Purchased{
			Meta:         meta,
			PostID:       postID,
			Buyer:        common.BytesToAddress(log.Topics[2].Bytes()),
			Amount:       bigAt(values, 0),
			TotalPaid:    bigAt(values, 1),
			PricePerUnit: bigAt(values, 2),
		}, nil
	case events.KindPriceUpdated:
		return &events.PriceUpdated{
			Meta:   meta,
			PostID: postID,
			Price:  bigAt(values, 0),
		}, nil
	case events.KindPostHidden:
		hidden, _ := values[0].(bool)
		return &events.PostHidden{
			Meta:   meta,
			PostID: postID,
			Hidden: hidden,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, ev.Name)
}

// bigAt returns nil when the value is not a uint256, which the projector
// rejects as malformed.
func bigAt(values []interface{}, i int) *big.Int {
	if i >= len(values) {
		return nil
	}
	v, _ := values[i].(*big.Int)
	return v
}

func stringAt(values []interface{}, i int) string {
	if i >= len(values) {
		return ""
	}
	s, _ := values[i].(string)
	return s
}
