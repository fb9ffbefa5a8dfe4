package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/chain"
	"github.com/solidfund/charityfund/internal/chainsync"
	"github.com/solidfund/charityfund/internal/charity"
	"github.com/solidfund/charityfund/internal/config"
	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/explorer"
	"github.com/solidfund/charityfund/internal/logging"
	"github.com/solidfund/charityfund/internal/retry"
	"github.com/solidfund/charityfund/internal/safe"
	"github.com/solidfund/charityfund/internal/submit"
	"github.com/solidfund/charityfund/internal/units"
	"github.com/solidfund/charityfund/internal/wallet"
)

type globalFlags struct {
	network  string
	rpc      string
	contract string
}

// signerFlags select how a signing command acts.
type signerFlags struct {
	asSafe    string
	confirmed bool
}

type historySource string

const (
	sourceLogs     historySource = "logs"
	sourceExplorer historySource = "explorer"
)

// app is the wiring shared by every command.
type app struct {
	cfg      config.Settings
	nets     config.Networks
	net      config.Network
	log      zerolog.Logger
	contract common.Address

	rc     *rpc.Client
	ec     *ethclient.Client
	reader *charity.Reader
	sync   *chainsync.Synchronizer

	provider *wallet.KeyProvider
	conn     *wallet.Connector
	submit   *submit.Submitter
}

func newApp(ctx context.Context, gf *globalFlags, source historySource) (*app, error) {
	cfg := config.Load()
	if gf.network != "" {
		cfg.Network = strings.ToLower(gf.network)
	}
	if gf.rpc != "" {
		cfg.RPCURL = gf.rpc
	}
	if gf.contract != "" {
		cfg.ContractAddress = gf.contract
	}
	a := &app{cfg: cfg, log: logging.New(cfg.IsDevelopment(), cfg.LogLevel)}

	var err error
	if a.nets, err = config.LoadNetworks(cfg.NetworksFile); err != nil {
		return nil, err
	}
	if a.net, err = cfg.Resolve(a.nets); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, errs.New(errs.KindInvalidAddress, "config", "CONTRACT_ADDRESS is not set or not an address")
	}
	a.contract = common.HexToAddress(cfg.ContractAddress)

	a.rc, err = retry.Value(ctx, retry.Policy{Attempts: cfg.RPCAttempts, Delay: time.Second}, func(ctx context.Context) (*rpc.Client, error) {
		return chain.Dial(ctx, a.net.RPCURL)
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "dial "+a.net.Key, err)
	}
	a.ec = ethclient.NewClient(a.rc)
	a.reader = charity.NewReader(a.rc, a.contract)

	logs := &chainsync.LogHistory{Filterer: a.ec, Contract: a.contract, FromBlock: cfg.FromBlock, Logger: a.log}
	var hist chainsync.HistorySource = logs
	if source == sourceExplorer {
		hist = &chainsync.ExplorerHistory{
			Lister:         explorer.NewProxyClient(cfg.APIBaseURL, nil),
			Network:        a.net.Key,
			Contract:       a.contract,
			TransferSource: logs,
		}
	}
	a.sync = chainsync.New(a.reader, hist, a.ec, chainsync.Options{
		Contract:     a.contract,
		PollInterval: cfg.PollInterval,
		FromBlock:    cfg.FromBlock,
		Retry:        retry.Policy{Attempts: cfg.RPCAttempts, Delay: 500 * time.Millisecond},
		Logger:       a.log,
	})
	return a, nil
}

// connectSigner loads the private key, opens a wallet session and builds
// the submitter.
func (a *app) connectSigner(ctx context.Context, sf signerFlags) (wallet.Session, error) {
	keyHex := a.cfg.PrivateKeyHex
	if keyHex == "" {
		var err error
		if keyHex, err = readPassword("Private key: "); err != nil {
			return wallet.Session{}, err
		}
	}
	prv, err := chain.ParsePrivateKey(keyHex)
	if err != nil {
		return wallet.Session{}, errs.Wrap(errs.KindInvalidAddress, "private key", err)
	}
	a.provider, err = wallet.NewKeyProvider(ctx, a.net.RPCURL, prv, wallet.KeyOptions{
		Networks:     a.nets,
		TipGwei:      a.cfg.TipGwei,
		BaseFeeMul:   a.cfg.BasefeeMul,
		GasBufferPct: a.cfg.GasBufferPct,
		PollInterval: time.Second,
		Logger:       a.log,
	})
	if err != nil {
		return wallet.Session{}, err
	}

	var svc wallet.SafeService
	if a.net.SafeService != "" {
		svc = safe.NewClient(a.net.SafeService, nil)
	}
	a.conn = wallet.NewConnector(a.provider, svc, wallet.Options{
		TargetChainID:     a.net.ChainID,
		BalanceInterval:   a.cfg.BalanceInterval,
		HandshakeTimeout:  a.cfg.SafeHandshakeTimeout,
		SafeRetryDelay:    a.cfg.SafeRetryDelay,
		SafeRetryAttempts: a.cfg.SafeRetryAttempts,
		Origin:            "charityfund-cli",
		Logger:            a.log,
	})
	a.submit = submit.New(a.conn, a.sync, submit.Options{
		Contract:       a.contract,
		ConfirmTimeout: a.cfg.ConfirmTimeout,
		Refresher:      a.sync,
		Logger:         a.log,
	})

	if sf.asSafe == "" {
		return a.conn.Connect(ctx)
	}
	if !common.IsHexAddress(sf.asSafe) {
		return wallet.Session{}, errs.New(errs.KindInvalidAddress, "connect safe", fmt.Sprintf("%q is not an address", sf.asSafe))
	}
	return a.conn.ConnectSafe(ctx, wallet.ConnectSafeOptions{
		Address:   common.HexToAddress(sf.asSafe),
		Confirmed: sf.confirmed,
	})
}

func (a *app) Close() {
	if a.provider != nil {
		a.provider.Close()
	}
	if a.rc != nil {
		a.rc.Close()
	}
}

func printConfig(w io.Writer, a *app, s wallet.Session) {
	fmt.Fprintln(w, "=== CONFIG (.env) ===")
	fmt.Fprintf(w, "NETWORK           : %s (%d)\n", a.net.Key, a.net.ChainID)
	fmt.Fprintln(w, "RPC_URL           :", a.net.RPCURL)
	fmt.Fprintln(w, "CONTRACT_ADDRESS  :", a.contract.Hex())
	fmt.Fprintln(w, "PRIVATE_KEY       :", chain.MaskHex(a.cfg.PrivateKeyHex))
	if s.Kind == wallet.KindSafe {
		fmt.Fprintln(w, "  -> Safe         :", s.Address.Hex())
		fmt.Fprintln(w, "  -> Owner        :", s.Owner.Hex())
	} else {
		fmt.Fprintln(w, "  -> address      :", s.Address.Hex())
	}
	fmt.Fprintln(w, "  -> balance      :", units.FormatEtherFixed(s.Balance, 6), "ETH")
	if s.ChainID != a.net.ChainID {
		fmt.Fprintf(w, "  [!] wallet is on chain %d\n", s.ChainID)
	}
	fmt.Fprintln(w, "Tip (gwei)        :", a.cfg.TipGwei)
	fmt.Fprintln(w, "BaseFeeMul        :", a.cfg.BasefeeMul)
	fmt.Fprintln(w, "GasBufferPct      :", a.cfg.GasBufferPct)
	fmt.Fprintln(w, "=====================")
}
