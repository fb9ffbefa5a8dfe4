package charity

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferKind tells automatic and manual transfers apart.
type TransferKind string

const (
	TransferAuto   TransferKind = "auto"
	TransferManual TransferKind = "manual"
)

// Donation is one decoded donationReceived or donationFallback log.
type Donation struct {
	Donor   common.Address
	Amount  *big.Int
	Balance *big.Int // contract balance right after the donation; nil if unknown
	// Timestamp is the block time reported by the contract, in seconds.
	Timestamp uint64
	Fallback  bool
	TxHash    common.Hash
	Block     uint64
}

// Transfer is one decoded autoTransfer or manualTransfer log.
type Transfer struct {
	Kind         TransferKind
	Amount       *big.Int
	Counterparty common.Address // recipient for auto, initiator for manual
	Timestamp    uint64
	TxHash       common.Hash
	Block        uint64
}

// SafeUpdate is one decoded SafeUpdated log.
type SafeUpdate struct {
	OldSafe   common.Address
	NewSafe   common.Address
	Timestamp uint64
	TxHash    common.Hash
	Block     uint64
}

// Event is a decoded contract log. Exactly one of the pointers is set.
type Event struct {
	Name       string
	Donation   *Donation
	Transfer   *Transfer
	SafeUpdate *SafeUpdate
}

// ErrUnknownEvent is returned for logs that are not CharityFund events.
var ErrUnknownEvent = errors.New("charity: unknown event")

// DecodeLog decodes any of the five contract events.
func DecodeLog(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, ErrUnknownEvent
	}
	ev, err := ABI.EventByID(l.Topics[0])
	if err != nil {
		return Event{}, ErrUnknownEvent
	}
	vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
	if err != nil {
		return Event{}, fmt.Errorf("unpack %s: %w", ev.Name, err)
	}
	out := Event{Name: ev.Name}
	switch ev.Name {
	case EventDonationReceived, EventDonationFallback:
		if len(l.Topics) < 2 || len(vals) != 3 {
			return Event{}, fmt.Errorf("%s: malformed log", ev.Name)
		}
		out.Donation = &Donation{
			Donor:     common.BytesToAddress(l.Topics[1].Bytes()),
			Amount:    vals[0].(*big.Int),
			Balance:   vals[1].(*big.Int),
			Timestamp: vals[2].(*big.Int).Uint64(),
			Fallback:  ev.Name == EventDonationFallback,
			TxHash:    l.TxHash,
			Block:     l.BlockNumber,
		}
	case EventAutoTransfer, EventManualTransfer:
		if len(l.Topics) < 2 || len(vals) != 2 {
			return Event{}, fmt.Errorf("%s: malformed log", ev.Name)
		}
		kind := TransferAuto
		if ev.Name == EventManualTransfer {
			kind = TransferManual
		}
		out.Transfer = &Transfer{
			Kind:         kind,
			Amount:       vals[0].(*big.Int),
			Counterparty: common.BytesToAddress(l.Topics[1].Bytes()),
			Timestamp:    vals[1].(*big.Int).Uint64(),
			TxHash:       l.TxHash,
			Block:        l.BlockNumber,
		}
	case EventSafeUpdated:
		if len(l.Topics) < 3 || len(vals) != 1 {
			return Event{}, fmt.Errorf("%s: malformed log", ev.Name)
		}
		out.SafeUpdate = &SafeUpdate{
			OldSafe:   common.BytesToAddress(l.Topics[1].Bytes()),
			NewSafe:   common.BytesToAddress(l.Topics[2].Bytes()),
			Timestamp: vals[0].(*big.Int).Uint64(),
			TxHash:    l.TxHash,
			Block:     l.BlockNumber,
		}
	default:
		return Event{}, ErrUnknownEvent
	}
	return out, nil
}

// EncodeLog builds the log a contract would emit for the named event.
// Indexed arguments go to topics in declaration order.
func EncodeLog(contract common.Address, name string, args ...interface{}) (types.Log, error) {
	ev, ok := ABI.Events[name]
	if !ok {
		return types.Log{}, ErrUnknownEvent
	}
	if len(args) != len(ev.Inputs) {
		return types.Log{}, fmt.Errorf("%s: want %d args, got %d", name, len(ev.Inputs), len(args))
	}
	topics := []common.Hash{ev.ID}
	var data []interface{}
	for i, in := range ev.Inputs {
		if in.Indexed {
			addr, ok := args[i].(common.Address)
			if !ok {
				return types.Log{}, fmt.Errorf("%s: indexed arg %s must be an address", name, in.Name)
			}
			topics = append(topics, common.BytesToHash(addr.Bytes()))
			continue
		}
		data = append(data, args[i])
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack %s: %w", name, err)
	}
	return types.Log{Address: contract, Topics: topics, Data: packed}, nil
}
