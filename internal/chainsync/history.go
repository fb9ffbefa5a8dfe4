package chainsync

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/charity"
	"github.com/solidfund/charityfund/internal/explorer"
)

// HistorySource yields donation and transfer records, in any order and
// possibly with duplicates.
type HistorySource interface {
	Donations(ctx context.Context) ([]charity.Donation, error)
	Transfers(ctx context.Context) ([]charity.Transfer, error)
}

// LogHistory reads records from contract event logs.
type LogHistory struct {
	Filterer  ethereum.LogFilterer
	Contract  common.Address
	FromBlock uint64
	Logger    zerolog.Logger
}

func (h *LogHistory) query(topics []common.Hash) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(h.FromBlock),
		Addresses: []common.Address{h.Contract},
		Topics:    [][]common.Hash{topics},
	}
}

// Donations decodes donationReceived and donationFallback logs.
func (h *LogHistory) Donations(ctx context.Context) ([]charity.Donation, error) {
	logs, err := h.Filterer.FilterLogs(ctx, h.query(charity.DonationTopics()))
	if err != nil {
		return nil, fmt.Errorf("donation logs: %w", err)
	}
	out := make([]charity.Donation, 0, len(logs))
	for _, l := range logs {
		ev, err := charity.DecodeLog(l)
		if err != nil || ev.Donation == nil {
			h.Logger.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("skipping log")
			continue
		}
		out = append(out, *ev.Donation)
	}
	return out, nil
}

// Transfers decodes autoTransfer and manualTransfer logs.
func (h *LogHistory) Transfers(ctx context.Context) ([]charity.Transfer, error) {
	logs, err := h.Filterer.FilterLogs(ctx, h.query(charity.TransferTopics()))
	if err != nil {
		return nil, fmt.Errorf("transfer logs: %w", err)
	}
	out := make([]charity.Transfer, 0, len(logs))
	for _, l := range logs {
		ev, err := charity.DecodeLog(l)
		if err != nil || ev.Transfer == nil {
			h.Logger.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("skipping log")
			continue
		}
		out = append(out, *ev.Transfer)
	}
	return out, nil
}

// ExplorerHistory derives donations from the contract's explorer txlist:
// successful incoming value transfers. Transfers out of the contract are
// internal transactions the txlist does not show, so they come from
// TransferSource when set.
type ExplorerHistory struct {
	Lister         explorer.Lister
	Network        string
	Contract       common.Address
	TransferSource HistorySource
}

func (h *ExplorerHistory) Donations(ctx context.Context) ([]charity.Donation, error) {
	txs, err := h.Lister.Transactions(ctx, h.Network, h.Contract.Hex())
	if err != nil {
		return nil, err
	}
	out := make([]charity.Donation, 0, len(txs))
	for _, tx := range txs {
		if !strings.EqualFold(tx.To, h.Contract.Hex()) || tx.IsError == "1" || !common.IsHexAddress(tx.From) {
			continue
		}
		amount, ok := new(big.Int).SetString(tx.Value, 10)
		if !ok {
			continue
		}
		ts, _ := strconv.ParseUint(tx.TimeStamp, 10, 64)
		block, _ := strconv.ParseUint(tx.BlockNumber, 10, 64)
		out = append(out, charity.Donation{
			Donor:     common.HexToAddress(tx.From),
			Amount:    amount,
			Timestamp: ts,
			TxHash:    common.HexToHash(tx.Hash),
			Block:     block,
		})
	}
	return out, nil
}

func (h *ExplorerHistory) Transfers(ctx context.Context) ([]charity.Transfer, error) {
	if h.TransferSource == nil {
		return []charity.Transfer{}, nil
	}
	return h.TransferSource.Transfers(ctx)
}

// MergeDonations drops zero-amount records, keeps the first record per
// transaction hash and sorts newest first.
func MergeDonations(in []charity.Donation) []charity.Donation {
	seen := make(map[common.Hash]struct{}, len(in))
	out := make([]charity.Donation, 0, len(in))
	for _, d := range in {
		if d.Amount == nil || d.Amount.Sign() <= 0 {
			continue
		}
		if _, dup := seen[d.TxHash]; dup {
			continue
		}
		seen[d.TxHash] = struct{}{}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Block > out[j].Block
	})
	return out
}

// MergeTransfers keeps one record per transaction hash and sorts newest
// first. A later record with the same hash replaces the kept one when its
// timestamp is later or its amount is larger. This is a display heuristic:
// it does not know which of two same-hash events is canonical.
func MergeTransfers(in []charity.Transfer) []charity.Transfer {
	idx := make(map[common.Hash]int, len(in))
	out := make([]charity.Transfer, 0, len(in))
	for _, t := range in {
		if t.Amount == nil {
			t.Amount = new(big.Int)
		}
		i, dup := idx[t.TxHash]
		if !dup {
			idx[t.TxHash] = len(out)
			out = append(out, t)
			continue
		}
		cur := out[i]
		if t.Timestamp > cur.Timestamp || t.Amount.Cmp(cur.Amount) > 0 {
			out[i] = t
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Block > out[j].Block
	})
	return out
}
