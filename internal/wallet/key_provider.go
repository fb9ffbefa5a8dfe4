package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/chain"
	"github.com/solidfund/charityfund/internal/config"
	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/safe"
	"github.com/solidfund/charityfund/internal/units"
)

// KeyOptions tunes a KeyProvider.
type KeyOptions struct {
	Networks     config.Networks // used by SwitchChain
	TipGwei      int64
	BaseFeeMul   int64
	GasBufferPct int64
	PollInterval time.Duration // receipt polling
	Logger       zerolog.Logger
}

// KeyProvider signs with a local private key and sends through an RPC node.
type KeyProvider struct {
	key  *ecdsa.PrivateKey
	addr common.Address
	opts KeyOptions
	fees chain.FeePolicy
	log  zerolog.Logger

	mu      sync.RWMutex
	rc      *rpc.Client
	ec      *ethclient.Client
	chainID int64

	events chan Event
}

// NewKeyProvider dials rpcURL and binds key to it.
func NewKeyProvider(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, opts KeyOptions) (*KeyProvider, error) {
	rc, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "dial", err)
	}
	p, err := newKeyProvider(ctx, rc, key, opts)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return p, nil
}

func newKeyProvider(ctx context.Context, rc *rpc.Client, key *ecdsa.PrivateKey, opts KeyOptions) (*KeyProvider, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	p := &KeyProvider{
		key:    key,
		addr:   chain.AddressOf(key),
		opts:   opts,
		fees:   chain.FeePolicy{BaseMul: opts.BaseFeeMul, MinTip: units.GweiToWei(opts.TipGwei)},
		log:    opts.Logger,
		events: make(chan Event, 4),
	}
	ec := ethclient.NewClient(rc)
	id, err := ec.ChainID(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "chain id", err)
	}
	p.rc, p.ec, p.chainID = rc, ec, id.Int64()
	return p, nil
}

// RPC returns the current RPC connection.
func (p *KeyProvider) RPC() *rpc.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rc
}

// Eth returns the current ethclient.
func (p *KeyProvider) Eth() *ethclient.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ec
}

// Close drops the RPC connection.
func (p *KeyProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rc != nil {
		p.rc.Close()
	}
}

func (p *KeyProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{p.addr}, nil
}

func (p *KeyProvider) ChainID(ctx context.Context) (int64, error) {
	id, err := p.Eth().ChainID(ctx)
	if err != nil {
		return 0, errs.Classify("chain id", err)
	}
	return id.Int64(), nil
}

func (p *KeyProvider) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := p.Eth().BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, errs.Classify("balance", err)
	}
	return bal, nil
}

func (p *KeyProvider) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	return p.Eth().CodeAt(ctx, addr, block)
}

// SwitchChain re-dials the RPC endpoint configured for chainID.
func (p *KeyProvider) SwitchChain(ctx context.Context, chainID int64) error {
	p.mu.RLock()
	cur := p.chainID
	p.mu.RUnlock()
	if cur == chainID {
		return nil
	}
	net, ok := p.opts.Networks.ByChainID(chainID)
	if !ok || net.RPCURL == "" {
		return errs.New(errs.KindWrongNetwork, "switch chain", fmt.Sprintf("chain %d is not in the network table", chainID))
	}
	rc, err := chain.Dial(ctx, net.RPCURL)
	if err != nil {
		return errs.Wrap(errs.KindConnection, "switch chain", err)
	}
	ec := ethclient.NewClient(rc)
	id, err := ec.ChainID(ctx)
	if err != nil {
		rc.Close()
		return errs.Wrap(errs.KindConnection, "switch chain", err)
	}
	if id.Int64() != chainID {
		rc.Close()
		return errs.New(errs.KindWrongNetwork, "switch chain", fmt.Sprintf("%s serves chain %d, want %d", net.Name, id.Int64(), chainID))
	}

	p.mu.Lock()
	old := p.rc
	p.rc, p.ec, p.chainID = rc, ec, chainID
	p.mu.Unlock()
	old.Close()
	p.log.Info().Int64("chain_id", chainID).Str("network", net.Name).Msg("switched chain")
	return nil
}

// SendTransaction fills nonce, gas and EIP-1559 fees, signs and broadcasts.
func (p *KeyProvider) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	p.mu.RLock()
	ec, chainID := p.ec, big.NewInt(p.chainID)
	p.mu.RUnlock()

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := ec.PendingNonceAt(ctx, p.addr)
	if err != nil {
		return common.Hash{}, errs.Classify("nonce", err)
	}
	tip, feeCap, err := p.fees.Fees(ctx, ec)
	if err != nil {
		return common.Hash{}, errs.Classify("fees", err)
	}
	to := req.To
	gas, err := ec.EstimateGas(ctx, ethereum.CallMsg{From: p.addr, To: &to, Value: value, Data: req.Data})
	if err != nil {
		if len(req.Data) > 0 {
			return common.Hash{}, errs.Classify("estimate gas", err)
		}
		p.log.Warn().Err(err).Msg("estimateGas failed, using 21000")
		gas = 21_000
	}
	gas = chain.WithBuffer(gas, p.opts.GasBufferPct)

	tx := chain.BuildDynamicTx(chainID, nonce, &to, value, gas, tip, feeCap, req.Data)
	signed, err := chain.SignTx(tx, chainID, p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}
	if err := ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errs.Classify("send", err)
	}
	p.log.Debug().
		Str("hash", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Str("max_fee_gwei", units.FormatGwei(feeCap)).
		Str("raw", chain.TxHex(signed)).
		Msg("sent transaction")
	return signed.Hash(), nil
}

func (p *KeyProvider) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return chain.WaitMined(ctx, p.Eth(), hash, p.opts.PollInterval)
}

func (p *KeyProvider) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return safe.Sign(hash, p.key)
}

func (p *KeyProvider) Events() <-chan Event { return p.events }

// Watch polls the node's chain id and reports changes until ctx ends.
func (p *KeyProvider) Watch(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		id, err := p.ChainID(ctx)
		if err != nil {
			p.log.Debug().Err(err).Msg("chain watch")
			continue
		}
		p.mu.Lock()
		changed := id != p.chainID
		p.chainID = id
		p.mu.Unlock()
		if !changed {
			continue
		}
		select {
		case p.events <- Event{Kind: ChainChanged, ChainID: id}:
		default:
			p.log.Warn().Int64("chain_id", id).Msg("dropping chain change event")
		}
	}
}
