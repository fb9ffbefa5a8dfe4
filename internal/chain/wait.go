package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptSource is the part of ethclient used to await inclusion.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ErrReverted is returned by WaitMined for receipts with failed status.
var ErrReverted = errors.New("transaction reverted")

// WaitMined polls for the receipt of hash until it is found or ctx ends.
func WaitMined(ctx context.Context, src ReceiptSource, hash common.Hash, every time.Duration) (*types.Receipt, error) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		rcpt, err := src.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && rcpt != nil:
			if rcpt.Status != types.ReceiptStatusSuccessful {
				return rcpt, fmt.Errorf("%s: %w", hash.Hex(), ErrReverted)
			}
			return rcpt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
