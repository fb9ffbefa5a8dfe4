package charity

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"

	"github.com/solidfund/charityfund/internal/errs"
)

var (
	funcSafe          = w3.MustNewFunc("safe()", "address")
	funcCap           = w3.MustNewFunc("capAmountForAutoTransfering()", "uint256")
	funcThreshold     = w3.MustNewFunc("THRESHOLD()", "uint256")
	funcGetBalance    = w3.MustNewFunc("getBalance()", "uint256")
	funcTotalReceive  = w3.MustNewFunc("getTotalReceive()", "uint256")
	funcTotalTransfer = w3.MustNewFunc("getTotalTransfer()", "uint256")
	funcAbove         = w3.MustNewFunc("isAboveThreshold()", "bool")
)

// index of the cap call in the first batch
const capCallIndex = 1

// State is one consistent read of the contract accessors.
type State struct {
	Balance          *big.Int
	Threshold        *big.Int
	LegacyThreshold  bool // Threshold came from THRESHOLD()
	TotalReceived    *big.Int
	TotalTransferred *big.Int
	SafeAddress      common.Address
	SafeBalance      *big.Int
	AboveThreshold   bool
}

// Reader batches the contract view calls into JSON-RPC batches.
type Reader struct {
	client   *w3.Client
	contract common.Address
}

// NewReader wraps an RPC connection for reads against contract.
func NewReader(rc *rpc.Client, contract common.Address) *Reader {
	return &Reader{client: w3.NewClient(rc), contract: contract}
}

// Contract returns the address the reader targets.
func (r *Reader) Contract() common.Address { return r.contract }

// Read fetches every accessor. When only capAmountForAutoTransfering fails
// the legacy THRESHOLD() is used instead; any other failure fails the read.
func (r *Reader) Read(ctx context.Context) (State, error) {
	var (
		st       State
		safeAddr common.Address
	)
	err := r.client.CallCtx(ctx,
		eth.CallFunc(r.contract, funcGetBalance).Returns(&st.Balance),
		eth.CallFunc(r.contract, funcCap).Returns(&st.Threshold),
		eth.CallFunc(r.contract, funcTotalReceive).Returns(&st.TotalReceived),
		eth.CallFunc(r.contract, funcTotalTransfer).Returns(&st.TotalTransferred),
		eth.CallFunc(r.contract, funcSafe).Returns(&safeAddr),
	)
	if err != nil {
		if !onlyFailed(err, capCallIndex) {
			return State{}, errs.Wrap(errs.KindRPC, "read contract state", err)
		}
		if err := r.client.CallCtx(ctx, eth.CallFunc(r.contract, funcThreshold).Returns(&st.Threshold)); err != nil {
			return State{}, errs.Wrap(errs.KindRPC, "read legacy threshold", err)
		}
		st.LegacyThreshold = true
	}
	st.SafeAddress = safeAddr

	err = r.client.CallCtx(ctx,
		eth.Balance(safeAddr, nil).Returns(&st.SafeBalance),
		eth.CallFunc(r.contract, funcAbove).Returns(&st.AboveThreshold),
	)
	if err != nil {
		return State{}, errs.Wrap(errs.KindRPC, "read safe balance", err)
	}
	return st, nil
}

// BalanceOf reads the native balance of any address.
func (r *Reader) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal *big.Int
	if err := r.client.CallCtx(ctx, eth.Balance(addr, nil).Returns(&bal)); err != nil {
		return nil, errs.Wrap(errs.KindRPC, "balance", err)
	}
	return bal, nil
}

func onlyFailed(err error, idx int) bool {
	var callErrs w3.CallErrors
	if !errors.As(err, &callErrs) || idx >= len(callErrs) {
		return false
	}
	for i, e := range callErrs {
		if (e != nil) != (i == idx) {
			return false
		}
	}
	return true
}
