package safe

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Operation is the SafeTx call type.
type Operation uint8

const (
	Call         Operation = 0
	DelegateCall Operation = 1
)

// Tx is a Safe multisig transaction. Gas fields default to zero, which
// lets the executing owner pay gas directly.
type Tx struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	Operation      Operation
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
	Nonce          uint64
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (tx Tx) normalized() Tx {
	tx.Value = orZero(tx.Value)
	tx.SafeTxGas = orZero(tx.SafeTxGas)
	tx.BaseGas = orZero(tx.BaseGas)
	tx.GasPrice = orZero(tx.GasPrice)
	return tx
}

var safeTxTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeTx": {
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "operation", Type: "uint8"},
		{Name: "safeTxGas", Type: "uint256"},
		{Name: "baseGas", Type: "uint256"},
		{Name: "gasPrice", Type: "uint256"},
		{Name: "gasToken", Type: "address"},
		{Name: "refundReceiver", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

// TypedData returns the EIP-712 document owners sign for tx.
func (tx Tx) TypedData(chainID *big.Int, safeAddr common.Address) apitypes.TypedData {
	tx = tx.normalized()
	return apitypes.TypedData{
		Types:       safeTxTypes,
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: safeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             tx.To.Hex(),
			"value":          tx.Value.String(),
			"data":           hexutil.Encode(tx.Data),
			"operation":      fmt.Sprint(uint8(tx.Operation)),
			"safeTxGas":      tx.SafeTxGas.String(),
			"baseGas":        tx.BaseGas.String(),
			"gasPrice":       tx.GasPrice.String(),
			"gasToken":       tx.GasToken.Hex(),
			"refundReceiver": tx.RefundReceiver.Hex(),
			"nonce":          fmt.Sprint(tx.Nonce),
		},
	}
}

// Hash is the safeTxHash of tx for the Safe at safeAddr on chainID.
func (tx Tx) Hash(chainID *big.Int, safeAddr common.Address) (common.Hash, error) {
	h, _, err := apitypes.TypedDataAndHash(tx.TypedData(chainID, safeAddr))
	if err != nil {
		return common.Hash{}, fmt.Errorf("safeTxHash: %w", err)
	}
	return common.BytesToHash(h), nil
}

// Sign produces an owner signature over hash with v in {27,28}.
func Sign(hash common.Hash, prv *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(hash.Bytes(), prv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
