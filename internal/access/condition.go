// Package access describes who may decrypt a post's gated content.
//
// A holder of the post's token, or anyone the contract grants access to,
// may read the content:
//
//	balanceOf(user, postId) > 0  OR  hasAccess(user, postId) == true
package access

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// UserAddressParam is substituted by the threshold network with the
// requesting wallet.
const UserAddressParam = ":userAddress"

// ABIParam is one input or output of a function ABI.
type ABIParam struct {
	InternalType string `json:"internalType"`
	Name         string `json:"name"`
	Type         string `json:"type"`
}

// FunctionABI is the ABI fragment of the called view function.
type FunctionABI struct {
	Inputs          []ABIParam `json:"inputs"`
	Name            string     `json:"name"`
	Outputs         []ABIParam `json:"outputs"`
	StateMutability string     `json:"stateMutability"`
	Type            string     `json:"type"`
}

// ReturnValueTest compares the call result against Value.
type ReturnValueTest struct {
	Comparator string `json:"comparator"`
	Value      string `json:"value"`
}

// ContractCondition is one evaluable contract call.
type ContractCondition struct {
	ContractAddress      string          `json:"contractAddress"`
	StandardContractType string          `json:"standardContractType"`
	Chain                string          `json:"chain"`
	FunctionName         string          `json:"functionName"`
	FunctionParams       []string        `json:"functionParams"`
	FunctionABI          FunctionABI     `json:"functionAbi"`
	ReturnValueTest      ReturnValueTest `json:"returnValueTest"`
}

// Operator joins two conditions.
type Operator struct {
	Operator string `json:"operator"`
}

// Conditions returns the condition list for postID, in the array form the
// threshold network consumes: condition, operator, condition.
func Conditions(contract common.Address, chain string, postID *big.Int) []interface{} {
	addr := strings.ToLower(contract.Hex())
	id := postID.String()

	balance := ContractCondition{
		ContractAddress:      addr,
		StandardContractType: "ERC1155",
		Chain:                chain,
		FunctionName:         "balanceOf",
		FunctionParams:       []string{UserAddressParam, id},
		FunctionABI: FunctionABI{
			Inputs: []ABIParam{
				{InternalType: "address", Name: "account", Type: "address"},
				{InternalType: "uint256", Name: "id", Type: "uint256"},
			},
			Name:            "balanceOf",
			Outputs:         []ABIParam{{InternalType: "uint256", Name: "", Type: "uint256"}},
			StateMutability: "view",
			Type:            "function",
		},
		ReturnValueTest: ReturnValueTest{Comparator: ">", Value: "0"},
	}

	grant := ContractCondition{
		ContractAddress:      addr,
		StandardContractType: "Custom",
		Chain:                chain,
		FunctionName:         "hasAccess",
		FunctionParams:       []string{UserAddressParam, id},
		FunctionABI: FunctionABI{
			Inputs: []ABIParam{
				{InternalType: "address", Name: "user", Type: "address"},
				{InternalType: "uint256", Name: "postId", Type: "uint256"},
			},
			Name:            "hasAccess",
			Outputs:         []ABIParam{{InternalType: "bool", Name: "", Type: "bool"}},
			StateMutability: "view",
			Type:            "function",
		},
		ReturnValueTest: ReturnValueTest{Comparator: "=", Value: "true"},
	}

	return []interface{}{balance, Operator{Operator: "or"}, grant}
}

// ConditionsJSON renders Conditions as JSON.
func ConditionsJSON(contract common.Address, chain string, postID *big.Int) ([]byte, error) {
	return json.Marshal(Conditions(contract, chain, postID))
}
