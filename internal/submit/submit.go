// Package submit turns user intents (donate, manual transfer, update the
// Safe address) into transactions or Safe proposals and tracks each
// attempt through validation, submission and confirmation.
package submit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/chainsync"
	"github.com/solidfund/charityfund/internal/charity"
	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/units"
	"github.com/solidfund/charityfund/internal/wallet"
)

// Phase is the state of one submission attempt.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseValidating           Phase = "validating"
	PhaseSubmitting           Phase = "submitting"
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	PhaseSettled              Phase = "settled"
	PhaseFailed               Phase = "failed"
)

// Action names what an attempt does.
type Action string

const (
	ActionDonate         Action = "donate"
	ActionManualTransfer Action = "manual_transfer"
	ActionUpdateSafe     Action = "update_safe"
	ActionSend           Action = "send"
)

// OutcomeKind tells a mined transaction from a queued Safe proposal.
type OutcomeKind string

const (
	OutcomeMined    OutcomeKind = "mined"
	OutcomeProposed OutcomeKind = "proposed"
)

// Outcome is the result of a settled attempt. TxHash is set for mined
// transactions, SafeTxHash for proposals.
type Outcome struct {
	Kind       OutcomeKind
	TxHash     common.Hash
	SafeTxHash common.Hash
	AttemptID  string
}

// Ref is the identifier to show the user.
func (o Outcome) Ref() string {
	if o.Kind == OutcomeProposed {
		return o.SafeTxHash.Hex()
	}
	return o.TxHash.Hex()
}

// Attempt is a snapshot of one submission, passed to observers on every
// phase change.
type Attempt struct {
	ID        string
	Action    Action
	Phase     Phase
	TxHash    common.Hash
	Err       error
	StartedAt time.Time
}

// Wallet is what the submitter needs from the connector.
type Wallet interface {
	Session() wallet.Session
	TargetChainID() int64
	Send(ctx context.Context, req wallet.TxRequest) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) error
	ProposeSafeTx(ctx context.Context, req wallet.TxRequest) (common.Hash, error)
}

// SnapshotSource is satisfied by *chainsync.Synchronizer.
type SnapshotSource interface {
	Snapshot() (chainsync.Snapshot, bool)
}

// Refresher is called after a settled attempt; *chainsync.Synchronizer fits.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options configures a Submitter.
type Options struct {
	Contract       common.Address
	ConfirmTimeout time.Duration
	Refresher      Refresher
	Observer       func(Attempt)
	Logger         zerolog.Logger
}

// Submitter validates and submits user intents.
type Submitter struct {
	wallet Wallet
	snaps  SnapshotSource
	opts   Options
	log    zerolog.Logger

	mu       sync.Mutex
	attempts map[string]Attempt
}

// New builds a submitter for the fund at opts.Contract.
func New(w Wallet, snaps SnapshotSource, opts Options) *Submitter {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 3 * time.Minute
	}
	return &Submitter{wallet: w, snaps: snaps, opts: opts, log: opts.Logger, attempts: map[string]Attempt{}}
}

// Attempt returns the last known state of attempt id.
func (s *Submitter) Attempt(id string) (Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	return a, ok
}

// Donate sends amount wei to the fund.
func (s *Submitter) Donate(ctx context.Context, amount *big.Int) (Outcome, error) {
	return s.run(ctx, ActionDonate, func(sess wallet.Session) (wallet.TxRequest, error) {
		if err := positive(ActionDonate, amount); err != nil {
			return wallet.TxRequest{}, err
		}
		if err := s.checkSession(ActionDonate, sess); err != nil {
			return wallet.TxRequest{}, err
		}
		if sess.Balance != nil && amount.Cmp(sess.Balance) > 0 {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAmount, string(ActionDonate),
				fmt.Sprintf("amount exceeds wallet balance (%s ETH)", units.FormatEtherFixed(sess.Balance, 6)))
		}
		return wallet.TxRequest{To: s.opts.Contract, Value: amount}, nil
	})
}

// ManualTransfer moves amount wei from the fund to its Safe. Safe sessions
// get a proposal instead of a mined transaction.
func (s *Submitter) ManualTransfer(ctx context.Context, amount *big.Int) (Outcome, error) {
	return s.run(ctx, ActionManualTransfer, func(sess wallet.Session) (wallet.TxRequest, error) {
		op := string(ActionManualTransfer)
		if err := positive(ActionManualTransfer, amount); err != nil {
			return wallet.TxRequest{}, err
		}
		snap, ok := s.snapshot()
		if !ok {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAmount, op, "contract balance not loaded")
		}
		if snap.Balance == nil || snap.Balance.Sign() == 0 {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAmount, op, "contract balance is zero")
		}
		if amount.Cmp(snap.Balance) > 0 {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAmount, op,
				fmt.Sprintf("amount exceeds contract balance (%s ETH)", units.FormatEtherFixed(snap.Balance, 6)))
		}
		if err := s.checkSession(ActionManualTransfer, sess); err != nil {
			return wallet.TxRequest{}, err
		}
		data, err := charity.PackManualTransfer(amount)
		if err != nil {
			return wallet.TxRequest{}, err
		}
		return wallet.TxRequest{To: s.opts.Contract, Data: data}, nil
	})
}

// UpdateSafeAddress points the fund at a new Safe.
func (s *Submitter) UpdateSafeAddress(ctx context.Context, addr string) (Outcome, error) {
	return s.run(ctx, ActionUpdateSafe, func(sess wallet.Session) (wallet.TxRequest, error) {
		op := string(ActionUpdateSafe)
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAddress, op, fmt.Sprintf("%q is not an address", addr))
		}
		next := common.HexToAddress(addr)
		if next == (common.Address{}) {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAddress, op, "zero address")
		}
		snap, ok := s.snapshot()
		if !ok {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAddress, op, "current Safe not loaded")
		}
		if snap.SafeAddress == next {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAddress, op, "address is already the current Safe")
		}
		if err := s.checkSession(ActionUpdateSafe, sess); err != nil {
			return wallet.TxRequest{}, err
		}
		data, err := charity.PackUpdateSafe(next)
		if err != nil {
			return wallet.TxRequest{}, err
		}
		return wallet.TxRequest{To: s.opts.Contract, Data: data}, nil
	})
}

// Send transfers amount wei to any address.
func (s *Submitter) Send(ctx context.Context, to string, amount *big.Int) (Outcome, error) {
	return s.run(ctx, ActionSend, func(sess wallet.Session) (wallet.TxRequest, error) {
		op := string(ActionSend)
		if !common.IsHexAddress(strings.TrimSpace(to)) {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAddress, op, fmt.Sprintf("%q is not an address", to))
		}
		if err := positive(ActionSend, amount); err != nil {
			return wallet.TxRequest{}, err
		}
		if err := s.checkSession(ActionSend, sess); err != nil {
			return wallet.TxRequest{}, err
		}
		if sess.Balance != nil && amount.Cmp(sess.Balance) > 0 {
			return wallet.TxRequest{}, errs.New(errs.KindInvalidAmount, op, "amount exceeds wallet balance")
		}
		return wallet.TxRequest{To: common.HexToAddress(strings.TrimSpace(to)), Value: amount}, nil
	})
}

func positive(a Action, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errs.New(errs.KindInvalidAmount, string(a), "amount must be positive")
	}
	return nil
}

func (s *Submitter) checkSession(a Action, sess wallet.Session) error {
	if !sess.Connected {
		return errs.New(errs.KindConnection, string(a), "wallet not connected")
	}
	if target := s.wallet.TargetChainID(); target != 0 && sess.ChainID != target {
		return errs.New(errs.KindWrongNetwork, string(a), fmt.Sprintf("connected to chain %d, fund is on %d", sess.ChainID, target))
	}
	return nil
}

func (s *Submitter) snapshot() (chainsync.Snapshot, bool) {
	if s.snaps == nil {
		return chainsync.Snapshot{}, false
	}
	return s.snaps.Snapshot()
}

func (s *Submitter) track(a *Attempt, p Phase, err error) {
	a.Phase = p
	a.Err = err
	s.mu.Lock()
	s.attempts[a.ID] = *a
	s.mu.Unlock()

	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Warn().Err(err)
	} else {
		ev = s.log.Info()
	}
	ev = ev.Str("attempt", a.ID).Str("action", string(a.Action)).Str("phase", string(p))
	if a.TxHash != (common.Hash{}) {
		ev = ev.Str("hash", a.TxHash.Hex())
	}
	ev.Msg("submission")
	if s.opts.Observer != nil {
		s.opts.Observer(*a)
	}
}

// run drives one attempt: Idle → Validating → Submitting →
// AwaitingConfirmation → Settled, or Failed from any step.
func (s *Submitter) run(ctx context.Context, action Action, build func(wallet.Session) (wallet.TxRequest, error)) (Outcome, error) {
	a := &Attempt{ID: uuid.NewString(), Action: action, StartedAt: time.Now()}
	s.track(a, PhaseIdle, nil)
	out := Outcome{AttemptID: a.ID}

	s.track(a, PhaseValidating, nil)
	sess := s.wallet.Session()
	req, err := build(sess)
	if err != nil {
		s.track(a, PhaseFailed, err)
		return out, err
	}

	s.track(a, PhaseSubmitting, nil)
	if sess.Kind == wallet.KindSafe {
		h, err := s.wallet.ProposeSafeTx(ctx, req)
		if err != nil {
			s.track(a, PhaseFailed, err)
			return out, fmt.Errorf("%s: %w", action, err)
		}
		out.Kind, out.SafeTxHash = OutcomeProposed, h
		a.TxHash = h
		s.track(a, PhaseSettled, nil)
		return out, nil
	}

	h, err := s.wallet.Send(ctx, req)
	if err != nil {
		s.track(a, PhaseFailed, err)
		return out, fmt.Errorf("%s: %w", action, err)
	}
	out.TxHash = h
	a.TxHash = h
	s.track(a, PhaseAwaitingConfirmation, nil)

	wctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()
	if err := s.wallet.WaitMined(wctx, h); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("no confirmation within %s: %w", s.opts.ConfirmTimeout, err)
		}
		s.track(a, PhaseFailed, err)
		return out, fmt.Errorf("%s: %w", action, err)
	}
	out.Kind = OutcomeMined
	s.track(a, PhaseSettled, nil)

	if s.opts.Refresher != nil {
		if err := s.opts.Refresher.Refresh(ctx); err != nil {
			s.log.Warn().Err(err).Msg("refresh after submission failed")
		}
	}
	return out, nil
}
