package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// params is a decoded JSON-RPC params object. Numbers keep their literal
// form so uint256 ids survive decoding.
type params map[string]interface{}

func decodeParams(raw json.RawMessage) (params, error) {
	p := params{}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, invalidParams("params must be an object")
	}
	return p, nil
}

// limit reads "limit": default 20, capped at 100.
func (p params) limit() (int, error) {
	v, ok := p["limit"]
	if !ok || v == nil {
		return defaultLimit, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, invalidParams("limit must be a number")
	}
	i, err := n.Int64()
	if err != nil || i < 1 {
		return 0, invalidParams("limit must be a positive integer")
	}
	if i > maxLimit {
		i = maxLimit
	}
	return int(i), nil
}

// address reads a required hex address and returns it lowercased.
func (p params) address(key string) (string, error) {
	s, _ := p[key].(string)
	if s == "" {
		return "", invalidParams("missing required parameter: %s", key)
	}
	if !common.IsHexAddress(s) {
		return "", invalidParams("%s is not a hex address", key)
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// postID reads a required post id given as a decimal string or number.
func (p params) postID(key string) (*big.Int, error) {
	var literal string
	switch v := p[key].(type) {
	case string:
		literal = v
	case json.Number:
		literal = v.String()
	case nil:
		return nil, invalidParams("missing required parameter: %s", key)
	default:
		return nil, invalidParams("%s must be a decimal string", key)
	}

	id, ok := new(big.Int).SetString(literal, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 256 {
		return nil, invalidParams("%s must be a uint256 in decimal form", key)
	}
	return id, nil
}
