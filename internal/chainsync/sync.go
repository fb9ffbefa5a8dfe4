// Package chainsync mirrors the fund contract: an atomically published
// snapshot of its accessors plus donation and transfer history, refreshed
// on demand and whenever the contract emits an event.
package chainsync

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/solidfund/charityfund/internal/charity"
	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/retry"
)

// Snapshot is one consistent read of the contract.
type Snapshot struct {
	Balance          *big.Int
	Threshold        *big.Int
	LegacyThreshold  bool
	TotalReceived    *big.Int
	TotalTransferred *big.Int
	SafeAddress      common.Address
	SafeBalance      *big.Int
	AboveThreshold   bool
	UpdatedAt        time.Time
}

func (s Snapshot) clone() Snapshot {
	cp := func(v *big.Int) *big.Int {
		if v == nil {
			return nil
		}
		return new(big.Int).Set(v)
	}
	s.Balance = cp(s.Balance)
	s.Threshold = cp(s.Threshold)
	s.TotalReceived = cp(s.TotalReceived)
	s.TotalTransferred = cp(s.TotalTransferred)
	s.SafeBalance = cp(s.SafeBalance)
	return s
}

// State is everything the synchronizer publishes.
type State struct {
	Snapshot  *Snapshot // nil before the first successful refresh
	Donations []charity.Donation
	Transfers []charity.Transfer
}

// StateReader is satisfied by *charity.Reader.
type StateReader interface {
	Read(ctx context.Context) (charity.State, error)
}

// Options configures a Synchronizer.
type Options struct {
	Contract     common.Address
	PollInterval time.Duration // log polling when subscriptions are unsupported
	FromBlock    uint64
	Retry        retry.Policy
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Synchronizer owns the contract mirror.
type Synchronizer struct {
	reader  StateReader
	history HistorySource
	logs    ethereum.LogFilterer
	opts    Options
	log     zerolog.Logger

	mu        sync.RWMutex
	snapshot  *Snapshot
	donations []charity.Donation
	transfers []charity.Transfer
	started   uint64 // sequence of the last started snapshot refresh
	published uint64 // sequence of the published snapshot
	sub       *subscription
	observers map[int]func(State)
	nextObs   int
}

// New builds a synchronizer. logs is only needed for Subscribe.
func New(reader StateReader, history HistorySource, logs ethereum.LogFilterer, opts Options) *Synchronizer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 4 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Default
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = func(err error) bool { return errs.KindOf(err) == errs.KindRPC }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		reader:    reader,
		history:   history,
		logs:      logs,
		opts:      opts,
		log:       opts.Logger,
		observers: map[int]func(State){},
	}
}

// State returns a copy of the published state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *Synchronizer) stateLocked() State {
	st := State{
		Donations: append([]charity.Donation(nil), s.donations...),
		Transfers: append([]charity.Transfer(nil), s.transfers...),
	}
	if s.snapshot != nil {
		snap := s.snapshot.clone()
		st.Snapshot = &snap
	}
	return st
}

// Snapshot returns the published snapshot, if any.
func (s *Synchronizer) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return Snapshot{}, false
	}
	return s.snapshot.clone(), true
}

// OnChange registers fn for published changes and returns its removal.
func (s *Synchronizer) OnChange(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Synchronizer) notify() {
	s.mu.RLock()
	st := s.stateLocked()
	fns := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}

// LoadSnapshot reads the contract and publishes the result as a whole. On
// failure the previous snapshot stays published. A result is dropped when
// a refresh started later has already been published.
func (s *Synchronizer) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.started++
	seq := s.started
	s.mu.Unlock()

	st, err := retry.Value(ctx, s.opts.Retry, s.reader.Read)
	if err != nil {
		s.log.Warn().Err(err).Msg("snapshot refresh failed")
		return Snapshot{}, err
	}
	snap := Snapshot{
		Balance:          st.Balance,
		Threshold:        st.Threshold,
		LegacyThreshold:  st.LegacyThreshold,
		TotalReceived:    st.TotalReceived,
		TotalTransferred: st.TotalTransferred,
		SafeAddress:      st.SafeAddress,
		SafeBalance:      st.SafeBalance,
		AboveThreshold:   st.AboveThreshold,
		UpdatedAt:        s.opts.Now(),
	}

	s.mu.Lock()
	if seq < s.published {
		cur := s.snapshot.clone()
		s.mu.Unlock()
		s.log.Debug().Uint64("seq", seq).Msg("dropping superseded snapshot")
		return cur, nil
	}
	s.published = seq
	s.snapshot = &snap
	s.mu.Unlock()
	s.notify()
	return snap.clone(), nil
}

// LoadDonations reloads donation history. On failure the last list is
// kept and returned along with the error.
func (s *Synchronizer) LoadDonations(ctx context.Context) ([]charity.Donation, error) {
	raw, err := s.history.Donations(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("loading donations failed")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]charity.Donation(nil), s.donations...), err
	}
	merged := MergeDonations(raw)
	s.mu.Lock()
	s.donations = merged
	s.mu.Unlock()
	s.notify()
	return append([]charity.Donation(nil), merged...), nil
}

// LoadTransfers reloads transfer history. On failure the last list is
// kept and returned along with the error.
func (s *Synchronizer) LoadTransfers(ctx context.Context) ([]charity.Transfer, error) {
	raw, err := s.history.Transfers(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("loading transfers failed")
		s.mu.RLock()
		defer s.mu.RUnlock()
		return append([]charity.Transfer(nil), s.transfers...), err
	}
	merged := MergeTransfers(raw)
	s.mu.Lock()
	s.transfers = merged
	s.mu.Unlock()
	s.notify()
	return append([]charity.Transfer(nil), merged...), nil
}

// Refresh reloads the snapshot and both histories. Only the snapshot
// error is returned; history failures are logged.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	_, err := s.LoadSnapshot(ctx)
	_, _ = s.LoadDonations(ctx)
	_, _ = s.LoadTransfers(ctx)
	return err
}
