// Package wallet connects a signer to the fund: a local key sending its own
// transactions, or a Safe multisig whose owners approve proposals.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/solidfund/charityfund/internal/safe"
)

// Kind is the connection kind of a session.
type Kind string

const (
	KindDirect Kind = "direct"
	KindSafe   Kind = "safe"
)

// Session is the connected wallet as seen by the rest of the program.
// Readers always get a copy.
type Session struct {
	Address   common.Address // account acting on the fund (the Safe for KindSafe)
	Balance   *big.Int
	ChainID   int64
	Kind      Kind
	Connected bool

	Owner common.Address // signing owner, KindSafe only
	Safe  *safe.Info     // nil when the Safe metadata could not be read
}

func (s Session) clone() Session {
	if s.Balance != nil {
		s.Balance = new(big.Int).Set(s.Balance)
	}
	if s.Safe != nil {
		info := *s.Safe
		info.Owners = append([]common.Address(nil), s.Safe.Owners...)
		s.Safe = &info
	}
	return s
}

// TxRequest is a transaction the provider fills, signs and sends.
type TxRequest struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// EventKind distinguishes provider notifications.
type EventKind int

const (
	AccountsChanged EventKind = iota + 1
	ChainChanged
)

// Event is a provider notification.
type Event struct {
	Kind     EventKind
	Accounts []common.Address
	ChainID  int64
}

// Provider is the signing wallet the connector drives.
type Provider interface {
	// Accounts returns the accounts the user allows, first one active.
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (int64, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error)
	// SwitchChain asks the provider to move to chainID.
	SwitchChain(ctx context.Context, chainID int64) error
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// SignHash signs a 32-byte digest; v is 27 or 28.
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
	// Events may return nil when the provider never notifies.
	Events() <-chan Event
}

// SafeService is the subset of the Safe Transaction Service used here.
type SafeService interface {
	Info(ctx context.Context, addr common.Address) (safe.Info, error)
	Propose(ctx context.Context, safeAddr common.Address, p safe.Proposal) error
}
