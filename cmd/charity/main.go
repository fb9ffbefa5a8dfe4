// Command charity reads and operates a CharityFund contract from the terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/solidfund/charityfund/internal/errs"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errs.Friendly(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	gf := &globalFlags{}
	root := &cobra.Command{
		Use:   "charity",
		Short: "Donate to and administer a CharityFund contract",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.network, "network", "", "network key from the network table (env NETWORK)")
	root.PersistentFlags().StringVar(&gf.rpc, "rpc", "", "RPC endpoint, overrides the network table (env RPC_URL)")
	root.PersistentFlags().StringVar(&gf.contract, "contract", "", "CharityFund address (env CONTRACT_ADDRESS)")

	root.AddCommand(
		newStatusCommand(gf),
		newBalanceCommand(gf),
		newDonateCommand(gf),
		newTransferCommand(gf),
		newUpdateSafeCommand(gf),
		newSendCommand(gf),
		newHistoryCommand(gf),
		newWatchCommand(gf),
		newNetworksCommand(gf),
		newFeesCommand(gf),
	)
	return root
}
