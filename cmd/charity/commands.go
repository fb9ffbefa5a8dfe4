package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/solidfund/charityfund/internal/chain"
	"github.com/solidfund/charityfund/internal/chainsync"
	"github.com/solidfund/charityfund/internal/config"
	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/submit"
	"github.com/solidfund/charityfund/internal/units"
	"github.com/solidfund/charityfund/internal/wallet"
)

func newStatusCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the fund balance, threshold, totals and Safe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), gf, sourceLogs)
			if err != nil {
				return err
			}
			defer a.Close()
			snap, err := a.sync.LoadSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), a.contract, snap)
			return nil
		},
	}
}

func newBalanceCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the ETH balance of an address (the fund by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), gf, sourceLogs)
			if err != nil {
				return err
			}
			defer a.Close()
			addr := a.contract
			if len(args) == 1 {
				if !common.IsHexAddress(args[0]) {
					return errs.New(errs.KindInvalidAddress, "balance", fmt.Sprintf("%q is not an address", args[0]))
				}
				addr = common.HexToAddress(args[0])
			}
			bal, err := a.reader.BalanceOf(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Address:", addr.Hex())
			fmt.Fprintln(cmd.OutOrStdout(), "Balance:", units.FormatEther(bal), "ETH")
			return nil
		},
	}
}

func addSignerFlags(cmd *cobra.Command, sf *signerFlags) {
	cmd.Flags().StringVar(&sf.asSafe, "as-safe", "", "act through this Safe; the key must belong to an owner")
	cmd.Flags().BoolVar(&sf.confirmed, "confirm-unverified", false, "continue when the Safe cannot be verified")
}

// runSigned opens a signing session and runs fn with the submitter.
func runSigned(cmd *cobra.Command, gf *globalFlags, sf signerFlags, loadSnapshot bool,
	fn func(ctx context.Context, s *submit.Submitter) (submit.Outcome, error)) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, gf, sourceLogs)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.connectSigner(ctx, sf)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printConfig(out, a, sess)
	if loadSnapshot {
		if _, err := a.sync.LoadSnapshot(ctx); err != nil {
			a.log.Warn().Err(err).Msg("could not load contract state")
		}
	}

	res, err := fn(ctx, a.submit)
	if err != nil {
		if res.TxHash != (common.Hash{}) {
			fmt.Fprintln(out, "tx:", res.TxHash.Hex())
		}
		return err
	}
	printOutcome(out, a.net, res)
	if res.Kind == submit.OutcomeMined {
		if snap, ok := a.sync.Snapshot(); ok {
			fmt.Fprintln(out, "Fund balance now:", units.FormatEtherFixed(snap.Balance, 6), "ETH")
		}
	}
	return nil
}

func parseAmount(op, s string) (*big.Int, error) {
	v, err := units.ParseEther(s)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidAmount, op, err)
	}
	return v, nil
}

func newDonateCommand(gf *globalFlags) *cobra.Command {
	var sf signerFlags
	cmd := &cobra.Command{
		Use:   "donate <amount-eth>",
		Short: "Send a donation to the fund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount("donate", args[0])
			if err != nil {
				return err
			}
			return runSigned(cmd, gf, sf, false, func(ctx context.Context, s *submit.Submitter) (submit.Outcome, error) {
				return s.Donate(ctx, amount)
			})
		},
	}
	addSignerFlags(cmd, &sf)
	return cmd
}

func newTransferCommand(gf *globalFlags) *cobra.Command {
	var sf signerFlags
	cmd := &cobra.Command{
		Use:   "transfer <amount-eth>",
		Short: "Move part of the fund balance to its Safe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount("manual transfer", args[0])
			if err != nil {
				return err
			}
			return runSigned(cmd, gf, sf, true, func(ctx context.Context, s *submit.Submitter) (submit.Outcome, error) {
				return s.ManualTransfer(ctx, amount)
			})
		},
	}
	addSignerFlags(cmd, &sf)
	return cmd
}

func newUpdateSafeCommand(gf *globalFlags) *cobra.Command {
	var sf signerFlags
	cmd := &cobra.Command{
		Use:   "update-safe <address>",
		Short: "Point the fund at a new Safe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSigned(cmd, gf, sf, true, func(ctx context.Context, s *submit.Submitter) (submit.Outcome, error) {
				return s.UpdateSafeAddress(ctx, args[0])
			})
		},
	}
	addSignerFlags(cmd, &sf)
	return cmd
}

func newSendCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <to> <amount-eth>",
		Short: "Send ETH from the configured key to any address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount("send", args[1])
			if err != nil {
				return err
			}
			return runSigned(cmd, gf, signerFlags{}, false, func(ctx context.Context, s *submit.Submitter) (submit.Outcome, error) {
				return s.Send(ctx, args[0], amount)
			})
		},
	}
}

func newHistoryCommand(gf *globalFlags) *cobra.Command {
	var source string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List donations and transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := historySource(source)
			if src != sourceLogs && src != sourceExplorer {
				return fmt.Errorf("unknown source %q (logs or explorer)", source)
			}
			a, err := newApp(cmd.Context(), gf, src)
			if err != nil {
				return err
			}
			defer a.Close()
			donations, err := a.sync.LoadDonations(cmd.Context())
			if err != nil {
				return err
			}
			transfers, err := a.sync.LoadTransfers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printDonations(out, head(donations, limit))
			fmt.Fprintln(out)
			printTransfers(out, head(transfers, limit))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", string(sourceLogs), "history source: logs or explorer (through charityd)")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows per table, 0 for all")
	return cmd
}

func newWatchCommand(gf *globalFlags) *cobra.Command {
	var withWallet bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow contract events and print the fund state on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, gf, sourceLogs)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var (
				mu       sync.Mutex
				lastSnap time.Time
				last     common.Hash
			)
			unsub := a.sync.OnChange(func(st chainsync.State) {
				mu.Lock()
				defer mu.Unlock()
				if st.Snapshot != nil && st.Snapshot.UpdatedAt.After(lastSnap) {
					lastSnap = st.Snapshot.UpdatedAt
					printSnapshotLine(out, *st.Snapshot)
				}
				if len(st.Donations) > 0 && st.Donations[0].TxHash != last {
					last = st.Donations[0].TxHash
					d := st.Donations[0]
					fmt.Fprintf(out, "  latest donation: %s ETH from %s\n", units.FormatEther(d.Amount), d.Donor.Hex())
				}
			})
			defer unsub()

			if err := a.sync.Refresh(ctx); err != nil {
				a.log.Warn().Err(err).Msg("initial refresh")
			}
			teardown, err := a.sync.Subscribe(ctx)
			if err != nil {
				return err
			}
			defer teardown()

			if withWallet {
				sess, err := a.connectSigner(ctx, signerFlags{})
				if err != nil {
					return err
				}
				lastWallet := sessionLine(sess)
				fmt.Fprintln(out, lastWallet)
				unsubWallet := a.conn.OnChange(func(s wallet.Session) {
					mu.Lock()
					defer mu.Unlock()
					if line := sessionLine(s); line != lastWallet {
						lastWallet = line
						fmt.Fprintln(out, line)
					}
				})
				defer unsubWallet()
				go a.provider.Watch(ctx, a.cfg.WatchInterval)
				go func() { _ = a.conn.Run(ctx) }()
			}

			fmt.Fprintln(out, "watching", a.contract.Hex(), "on", a.net.Key, "(Ctrl+C to stop)")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWallet, "wallet", false, "also follow the configured key's balance and chain")
	return cmd
}

func newNetworksCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List the known networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			nets, err := config.LoadNetworks(cfg.NetworksFile)
			if err != nil {
				return err
			}
			keys := nets.Keys()
			selected := cfg.Network
			if gf.network != "" {
				selected = gf.network
			}
			printNetworks(cmd.OutOrStdout(), nets, keys, selected)
			return nil
		},
	}
}

// newFeesCommand prints current fee conditions and what a donation would
// cost in gas at the configured tip and at the recent peak tip.
func newFeesCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fees",
		Short: "Show base fee, recent tips and the gas cost of a donation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, gf, sourceLogs)
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			baseFee, err := chain.LatestBaseFee(ctx, a.ec)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "[net] baseFee(now): %s gwei\n", units.FormatGwei(baseFee))

			pcts := a.cfg.FeePercentiles
			maxTip := new(big.Int)
			stats, next, err := chain.FeeHistoryStats(ctx, a.ec, a.cfg.FeeBlocks, pcts)
			if err != nil {
				fmt.Fprintln(out, "[net] feeHistory error:", errs.Friendly(err))
			} else {
				if next != nil {
					fmt.Fprintf(out, "[net] baseFee(next): %s gwei\n", units.FormatGwei(next))
				}
				fmt.Fprintf(out, "[net] reward stats last %d blocks:\n", a.cfg.FeeBlocks)
				for _, p := range pcts {
					st := stats[p]
					fmt.Fprintf(out, "  p%-2d min/avg/max: %s / %s / %s gwei\n", p, units.FormatGwei(st.Min), units.FormatGwei(st.Avg), units.FormatGwei(st.Max))
					if st.Max != nil && st.Max.Cmp(maxTip) > 0 {
						maxTip = st.Max
					}
				}
			}

			gas := uint64(21_000)
			if est, err := a.ec.EstimateGas(ctx, ethereum.CallMsg{To: &a.contract, Value: big.NewInt(1)}); err == nil && est > 0 {
				gas = est
			}
			gas = chain.WithBuffer(gas, a.cfg.GasBufferPct)
			doubled := new(big.Int).Mul(baseFee, big.NewInt(a.cfg.BasefeeMul))
			fixed := new(big.Int).Add(doubled, units.GweiToWei(a.cfg.TipGwei))
			peak := new(big.Int).Add(doubled, maxTip)
			g := new(big.Int).SetUint64(gas)
			fmt.Fprintf(out, "[net] donation gas≈%d, max cost: fixed tip=%s ETH, peak tip=%s ETH\n",
				gas, units.FormatEther(new(big.Int).Mul(g, fixed)), units.FormatEther(new(big.Int).Mul(g, peak)))
			return nil
		},
	}
}
