package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/retry"
	"github.com/solidfund/charityfund/internal/safe"
)

// Options configures a Connector.
type Options struct {
	TargetChainID     int64
	BalanceInterval   time.Duration
	HandshakeTimeout  time.Duration
	SafeRetryDelay    time.Duration
	SafeRetryAttempts int
	Origin            string // sent with Safe proposals
	Logger            zerolog.Logger
}

// ConnectSafeOptions selects the Safe to act as.
type ConnectSafeOptions struct {
	Address common.Address
	// Confirmed lets the connection proceed when the address could not be
	// verified as a Safe.
	Confirmed bool
}

// Connector owns the wallet session.
type Connector struct {
	provider Provider
	svc      SafeService
	opts     Options
	log      zerolog.Logger

	mu        sync.RWMutex
	session   Session
	safeOpts  ConnectSafeOptions
	observers map[int]func(Session)
	nextObs   int
}

// NewConnector builds a connector. svc may be nil when Safe sessions are
// not needed.
func NewConnector(p Provider, svc SafeService, opts Options) *Connector {
	if opts.BalanceInterval <= 0 {
		opts.BalanceInterval = 3 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.SafeRetryAttempts <= 0 {
		opts.SafeRetryAttempts = 2
	}
	return &Connector{
		provider:  p,
		svc:       svc,
		opts:      opts,
		log:       opts.Logger,
		observers: map[int]func(Session){},
	}
}

// Session returns a copy of the current session.
func (c *Connector) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.clone()
}

// TargetChainID is the chain the fund lives on.
func (c *Connector) TargetChainID() int64 { return c.opts.TargetChainID }

// OnChange registers fn for session updates and returns its removal.
func (c *Connector) OnChange(fn func(Session)) func() {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Connector) publish(s Session) {
	c.mu.Lock()
	c.session = s
	fns := make([]func(Session), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s.clone())
	}
}

// Connect opens a direct session with the provider's active account. When
// the provider is on another chain it is asked to switch once.
func (c *Connector) Connect(ctx context.Context) (Session, error) {
	const op = "connect"
	if c.provider == nil {
		return Session{}, errs.New(errs.KindConnection, op, "no wallet provider configured")
	}
	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		return Session{}, errs.Wrap(errs.KindConnection, op, err)
	}
	if len(accounts) == 0 {
		return Session{}, errs.New(errs.KindConnection, op, "no accounts")
	}
	chainID, err := c.ensureChain(ctx)
	if err != nil {
		return Session{}, err
	}
	bal, err := c.provider.BalanceAt(ctx, accounts[0])
	if err != nil {
		return Session{}, errs.Wrap(errs.KindConnection, op, err)
	}

	s := Session{Address: accounts[0], Balance: bal, ChainID: chainID, Kind: KindDirect, Connected: true}
	c.mu.Lock()
	c.safeOpts = ConnectSafeOptions{}
	c.mu.Unlock()
	c.publish(s)
	c.log.Info().Str("address", s.Address.Hex()).Int64("chain_id", chainID).Msg("wallet connected")
	return s.clone(), nil
}

func (c *Connector) ensureChain(ctx context.Context) (int64, error) {
	chainID, err := c.provider.ChainID(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.KindConnection, "chain id", err)
	}
	target := c.opts.TargetChainID
	if target == 0 || chainID == target {
		return chainID, nil
	}
	if err := c.provider.SwitchChain(ctx, target); err != nil {
		c.log.Warn().Err(err).Int64("chain_id", chainID).Int64("target", target).Msg("network switch failed")
		return chainID, nil
	}
	if id, err := c.provider.ChainID(ctx); err == nil {
		chainID = id
	}
	return chainID, nil
}

type handshake struct {
	result safe.ProbeResult
	info   safe.Info
}

// ConnectSafe opens a Safe session. The address is probed with a bounded
// number of attempts; an address that cannot be verified is only accepted
// with opts.Confirmed.
func (c *Connector) ConnectSafe(ctx context.Context, opts ConnectSafeOptions) (Session, error) {
	const op = "connect safe"
	if c.provider == nil {
		return Session{}, errs.New(errs.KindConnection, op, "no wallet provider configured")
	}
	if c.svc == nil {
		return Session{}, errs.New(errs.KindSafeHandshake, op, "no Safe service configured")
	}
	if opts.Address == (common.Address{}) {
		return Session{}, errs.New(errs.KindInvalidAddress, op, "empty Safe address")
	}
	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		return Session{}, errs.Wrap(errs.KindConnection, op, err)
	}
	if len(accounts) == 0 {
		return Session{}, errs.New(errs.KindConnection, op, "no signing account")
	}
	owner := accounts[0]

	policy := retry.Policy{Attempts: c.opts.SafeRetryAttempts, Delay: c.opts.SafeRetryDelay}
	hs, err := retry.Value(ctx, policy, func(ctx context.Context) (handshake, error) {
		hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
		defer cancel()
		res, info, err := safe.Probe(hctx, c.provider, c.svc, opts.Address)
		if res == safe.ProbeUnknown {
			if err == nil {
				err = errors.New("safe probe inconclusive")
			}
			c.log.Warn().Err(err).Str("safe", opts.Address.Hex()).Msg("safe handshake attempt failed")
			return handshake{result: res}, err
		}
		return handshake{result: res, info: info}, nil
	})
	if err != nil && ctx.Err() != nil {
		return Session{}, errs.Wrap(errs.KindSafeHandshake, op, ctx.Err())
	}

	s := Session{Address: opts.Address, Kind: KindSafe, Owner: owner}
	switch hs.result {
	case safe.ProbeNotSafe:
		return Session{}, errs.New(errs.KindSafeHandshake, op, opts.Address.Hex()+" is not a Safe")
	case safe.ProbeUnknown:
		if !opts.Confirmed {
			return Session{}, &errs.Error{Kind: errs.KindSafeHandshake, Op: op,
				Msg: "could not verify " + opts.Address.Hex() + " as a Safe; confirm to continue", Err: err}
		}
		c.log.Warn().Str("safe", opts.Address.Hex()).Msg("continuing with unverified Safe")
	case safe.ProbeSafe:
		info := hs.info
		s.Safe = &info
		if len(info.Owners) > 0 && !info.IsOwner(owner) {
			return Session{}, errs.New(errs.KindNotOwner, op, owner.Hex()+" is not an owner of "+opts.Address.Hex())
		}
	}

	chainID, err := c.ensureChain(ctx)
	if err != nil {
		return Session{}, err
	}
	bal, err := c.provider.BalanceAt(ctx, opts.Address)
	if err != nil {
		return Session{}, errs.Wrap(errs.KindConnection, op, err)
	}
	s.ChainID = chainID
	s.Balance = bal
	s.Connected = true

	c.mu.Lock()
	c.safeOpts = opts
	c.mu.Unlock()
	c.publish(s)
	c.log.Info().Str("safe", s.Address.Hex()).Str("owner", owner.Hex()).Int64("chain_id", chainID).Msg("safe connected")
	return s.clone(), nil
}

// Disconnect clears the session.
func (c *Connector) Disconnect() {
	c.publish(Session{})
	c.log.Info().Msg("wallet disconnected")
}

// RefreshBalance re-reads the session balance. Failures are logged and the
// previous balance kept.
func (c *Connector) RefreshBalance(ctx context.Context) {
	s := c.Session()
	if !s.Connected || c.provider == nil {
		return
	}
	bal, err := c.provider.BalanceAt(ctx, s.Address)
	if err != nil {
		c.log.Warn().Err(err).Msg("balance refresh failed")
		return
	}
	c.mu.Lock()
	if !c.session.Connected || c.session.Address != s.Address {
		c.mu.Unlock()
		return
	}
	next := c.session.clone()
	c.mu.Unlock()
	if next.Balance != nil && next.Balance.Cmp(bal) == 0 {
		return
	}
	next.Balance = bal
	c.publish(next)
}

// Run refreshes the balance periodically and reacts to provider events
// until ctx is cancelled.
func (c *Connector) Run(ctx context.Context) error {
	t := time.NewTicker(c.opts.BalanceInterval)
	defer t.Stop()
	var events <-chan Event
	if c.provider != nil {
		events = c.provider.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.RefreshBalance(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Connector) handleEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			c.Disconnect()
			return
		}
		if c.Session().Connected {
			c.reconnect(ctx)
		}
	case ChainChanged:
		if !c.Session().Connected {
			return
		}
		c.log.Info().Int64("chain_id", ev.ChainID).Msg("chain changed, resetting session")
		c.Disconnect()
		c.reconnect(ctx)
	}
}

func (c *Connector) reconnect(ctx context.Context) {
	c.mu.RLock()
	so := c.safeOpts
	c.mu.RUnlock()
	var err error
	if so.Address != (common.Address{}) {
		_, err = c.ConnectSafe(ctx, so)
	} else {
		_, err = c.Connect(ctx)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("reconnect failed")
	}
}

// Send submits a transaction from a direct session.
func (c *Connector) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	s := c.Session()
	if !s.Connected {
		return common.Hash{}, errs.New(errs.KindConnection, "send", "wallet not connected")
	}
	if s.Kind != KindDirect {
		return common.Hash{}, fmt.Errorf("send: %s sessions propose instead of sending", s.Kind)
	}
	return c.provider.SendTransaction(ctx, req)
}

// WaitMined waits for one confirmation of hash.
func (c *Connector) WaitMined(ctx context.Context, hash common.Hash) error {
	_, err := c.provider.WaitMined(ctx, hash)
	return err
}

// ProposeSafeTx signs req as the session owner and queues it on the Safe.
// The returned hash identifies the proposal.
func (c *Connector) ProposeSafeTx(ctx context.Context, req TxRequest) (common.Hash, error) {
	const op = "propose"
	s := c.Session()
	if !s.Connected || s.Kind != KindSafe {
		return common.Hash{}, errs.New(errs.KindConnection, op, "no Safe session")
	}
	info, err := c.svc.Info(ctx, s.Address)
	if err != nil {
		return common.Hash{}, errs.Wrap(errs.KindSafeHandshake, op, err)
	}
	if len(info.Owners) > 0 && !info.IsOwner(s.Owner) {
		return common.Hash{}, errs.New(errs.KindNotOwner, op, s.Owner.Hex()+" is not an owner")
	}
	tx := safe.Tx{To: req.To, Value: req.Value, Data: req.Data, Operation: safe.Call, Nonce: info.Nonce}
	hash, err := tx.Hash(big.NewInt(s.ChainID), s.Address)
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := c.provider.SignHash(ctx, hash)
	if err != nil {
		return common.Hash{}, errs.Classify(op, err)
	}
	err = c.svc.Propose(ctx, s.Address, safe.Proposal{
		Tx: tx, SafeTxHash: hash, Sender: s.Owner, Signature: sig, Origin: c.opts.Origin,
	})
	if err != nil {
		return common.Hash{}, errs.Classify(op, err)
	}
	c.log.Info().Str("safe_tx_hash", hash.Hex()).Uint64("nonce", info.Nonce).Msg("proposed Safe transaction")
	return hash, nil
}
