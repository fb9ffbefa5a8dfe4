package main

import (
	"fmt"
	"io"
	"math/big"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solidfund/charityfund/internal/chainsync"
	"github.com/solidfund/charityfund/internal/charity"
	"github.com/solidfund/charityfund/internal/config"
	"github.com/solidfund/charityfund/internal/submit"
	"github.com/solidfund/charityfund/internal/units"
	"github.com/solidfund/charityfund/internal/wallet"
)

// progress is the balance as a share of the threshold, in percent with one
// decimal, capped at 100.
func progress(balance, threshold *big.Int) string {
	if balance == nil || threshold == nil || threshold.Sign() <= 0 {
		return "-"
	}
	tenths := new(big.Int).Mul(balance, big.NewInt(1000))
	tenths.Quo(tenths, threshold)
	if tenths.Cmp(big.NewInt(1000)) > 0 {
		tenths.SetInt64(1000)
	}
	n := tenths.Int64()
	return fmt.Sprintf("%d.%d%%", n/10, n%10)
}

func printSnapshot(w io.Writer, contract common.Address, s chainsync.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Contract\t%s\n", contract.Hex())
	fmt.Fprintf(tw, "Balance\t%s ETH\n", units.FormatEtherFixed(s.Balance, 6))
	thr := units.FormatEtherFixed(s.Threshold, 6) + " ETH"
	if s.LegacyThreshold {
		thr += " (THRESHOLD)"
	}
	fmt.Fprintf(tw, "Auto-transfer at\t%s\n", thr)
	fmt.Fprintf(tw, "Progress\t%s\n", progress(s.Balance, s.Threshold))
	fmt.Fprintf(tw, "Total received\t%s ETH\n", units.FormatEtherFixed(s.TotalReceived, 6))
	fmt.Fprintf(tw, "Total transferred\t%s ETH\n", units.FormatEtherFixed(s.TotalTransferred, 6))
	fmt.Fprintf(tw, "Safe\t%s\n", s.SafeAddress.Hex())
	if s.SafeBalance != nil {
		fmt.Fprintf(tw, "Safe balance\t%s ETH\n", units.FormatEtherFixed(s.SafeBalance, 6))
	}
	fmt.Fprintf(tw, "Above threshold\t%t\n", s.AboveThreshold)
	fmt.Fprintf(tw, "Updated\t%s\n", s.UpdatedAt.Format(time.RFC3339))
	_ = tw.Flush()
}

func printSnapshotLine(w io.Writer, s chainsync.Snapshot) {
	fmt.Fprintf(w, "[%s] balance=%s ETH threshold=%s ETH (%s) received=%s transferred=%s safe=%s\n",
		s.UpdatedAt.Format("15:04:05"),
		units.FormatEther(s.Balance), units.FormatEther(s.Threshold), progress(s.Balance, s.Threshold),
		units.FormatEther(s.TotalReceived), units.FormatEther(s.TotalTransferred), s.SafeAddress.Hex())
}

func printOutcome(w io.Writer, net config.Network, o submit.Outcome) {
	switch o.Kind {
	case submit.OutcomeProposed:
		fmt.Fprintln(w, "Safe proposal queued:", o.SafeTxHash.Hex())
		fmt.Fprintln(w, "Other owners must confirm and execute it before funds move.")
	default:
		fmt.Fprintln(w, "Transaction mined:", o.TxHash.Hex())
		if net.Explorer != "" {
			fmt.Fprintln(w, "  ", strings.TrimRight(net.Explorer, "/")+"/tx/"+o.TxHash.Hex())
		}
	}
}

func head[T any](in []T, n int) []T {
	if n <= 0 || len(in) <= n {
		return in
	}
	return in[:n]
}

func formatTime(ts uint64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05")
}

func printDonations(w io.Writer, ds []charity.Donation) {
	fmt.Fprintf(w, "Donations (%d)\n", len(ds))
	if len(ds) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tDONOR\tAMOUNT (ETH)\tTX")
	for _, d := range ds {
		donor := d.Donor.Hex()
		if d.Fallback {
			donor += " (fallback)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(d.Timestamp), donor, units.FormatEther(d.Amount), d.TxHash.Hex())
	}
	_ = tw.Flush()
}

func printTransfers(w io.Writer, ts []charity.Transfer) {
	fmt.Fprintf(w, "Transfers to Safe (%d)\n", len(ts))
	if len(ts) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tAMOUNT (ETH)\tBY/TO\tTX")
	for _, t := range ts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", formatTime(t.Timestamp), t.Kind, units.FormatEther(t.Amount), t.Counterparty.Hex(), t.TxHash.Hex())
	}
	_ = tw.Flush()
}

func printNetworks(w io.Writer, nets config.Networks, keys []string, selected string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tKEY\tCHAIN ID\tCURRENCY\tRPC")
	for _, k := range keys {
		n := nets[k]
		mark := ""
		if strings.EqualFold(k, selected) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", mark, k, n.ChainID, n.Currency, n.RPCURL)
	}
	_ = tw.Flush()
}

func sessionLine(s wallet.Session) string {
	if !s.Connected {
		return "[wallet] disconnected"
	}
	return fmt.Sprintf("[wallet] %s %s chain=%d balance=%s ETH",
		s.Kind, s.Address.Hex(), s.ChainID, units.FormatEtherFixed(s.Balance, 6))
}
