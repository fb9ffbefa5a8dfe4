package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// FeeSource is the part of ethclient used to price transactions.
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// FeePolicy sets the fee cap to baseFee*BaseMul + tip, with tip no lower
// than MinTip.
type FeePolicy struct {
	BaseMul int64
	MinTip  *big.Int
}

// Fees returns the tip and fee cap for the next block.
func (p FeePolicy) Fees(ctx context.Context, src FeeSource) (tip, feeCap *big.Int, err error) {
	baseFee, err := LatestBaseFee(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	tip, err = src.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		tip = new(big.Int)
	}
	if p.MinTip != nil && tip.Cmp(p.MinTip) < 0 {
		tip = new(big.Int).Set(p.MinTip)
	}
	mul := p.BaseMul
	if mul <= 0 {
		mul = 2
	}
	feeCap = new(big.Int).Mul(baseFee, big.NewInt(mul))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

// LatestBaseFee reads the base fee of the head block.
func LatestBaseFee(ctx context.Context, src FeeSource) (*big.Int, error) {
	h, err := src.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if h.BaseFee == nil {
		return nil, errors.New("no baseFee (pre-1559?)")
	}
	return new(big.Int).Set(h.BaseFee), nil
}

// WithBuffer adds pct percent to a gas estimate.
func WithBuffer(gas uint64, pct int64) uint64 {
	if pct <= 0 {
		return gas
	}
	return gas + gas*uint64(pct)/100
}
