package chainsync

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/solidfund/charityfund/internal/charity"
)

type subscription struct {
	cancel   context.CancelFunc
	done     chan struct{}
	teardown func()
	// set while the listener goroutine handles an event
	handling atomic.Bool
}

// Subscribe listens for every contract event and refreshes on each one.
// Push subscriptions are used when the node supports them, log polling
// otherwise. Calling Subscribe again while active returns the same
// teardown; the teardown stops the listener and waits for it to exit.
// Called from an OnChange observer while an event is being handled, the
// teardown cancels without waiting. A listener that stops because ctx ended
// unregisters itself, so a later Subscribe starts a fresh one.
func (s *Synchronizer) Subscribe(ctx context.Context) (func(), error) {
	if s.logs == nil {
		return nil, errors.New("chainsync: no log source")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return s.sub.teardown, nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	q := ethereum.FilterQuery{
		Addresses: []common.Address{s.opts.Contract},
		Topics:    [][]common.Hash{charity.AllTopics()},
	}
	ch := make(chan types.Log, 16)
	push, err := s.logs.SubscribeFilterLogs(subCtx, q, ch)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		s.log.Info().Dur("every", s.opts.PollInterval).Msg("subscriptions unsupported, polling logs")
		push = nil
	case err != nil:
		cancel()
		return nil, err
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	var once sync.Once
	sub.teardown = func() {
		once.Do(func() {
			sub.cancel()
			if !sub.handling.Load() {
				<-sub.done
			}
			s.mu.Lock()
			if s.sub == sub {
				s.sub = nil
			}
			s.mu.Unlock()
		})
	}
	s.sub = sub

	handle := func(l types.Log) {
		sub.handling.Store(true)
		defer sub.handling.Store(false)
		s.onLog(subCtx, l)
	}
	go func() {
		defer func() {
			sub.cancel()
			s.mu.Lock()
			if s.sub == sub {
				s.sub = nil
			}
			s.mu.Unlock()
			close(sub.done)
		}()
		if push != nil {
			s.listen(subCtx, push, ch, q, handle)
			return
		}
		s.poll(subCtx, q, handle)
	}()
	return sub.teardown, nil
}

// Subscribed reports whether a listener is active.
func (s *Synchronizer) Subscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sub != nil
}

func (s *Synchronizer) listen(ctx context.Context, sub ethereum.Subscription, ch <-chan types.Log, q ethereum.FilterQuery, handle func(types.Log)) {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-ch:
			handle(l)
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("log subscription dropped, polling instead")
			sub.Unsubscribe()
			s.poll(ctx, q, handle)
			return
		}
	}
}

func (s *Synchronizer) poll(ctx context.Context, q ethereum.FilterQuery, handle func(types.Log)) {
	// baseline: events already on chain do not trigger a refresh
	var last uint64
	if q.FromBlock == nil {
		q.FromBlock = new(big.Int).SetUint64(s.opts.FromBlock)
	}
	if logs, err := s.logs.FilterLogs(ctx, q); err == nil {
		for _, l := range logs {
			if l.BlockNumber > last {
				last = l.BlockNumber
			}
		}
	} else {
		s.log.Warn().Err(err).Msg("initial log poll failed")
	}

	t := time.NewTicker(s.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		q.FromBlock = new(big.Int).SetUint64(last + 1)
		logs, err := s.logs.FilterLogs(ctx, q)
		if err != nil {
			s.log.Warn().Err(err).Msg("log poll failed")
			continue
		}
		if len(logs) == 0 {
			continue
		}
		for _, l := range logs {
			if l.BlockNumber > last {
				last = l.BlockNumber
			}
		}
		handle(logs[len(logs)-1])
	}
}

func (s *Synchronizer) onLog(ctx context.Context, l types.Log) {
	ev, err := charity.DecodeLog(l)
	if err != nil {
		s.log.Debug().Err(err).Str("tx", l.TxHash.Hex()).Msg("undecodable log")
	} else {
		s.log.Info().Str("event", ev.Name).Str("tx", l.TxHash.Hex()).Uint64("block", l.BlockNumber).Msg("contract event")
	}
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("refresh after event failed")
	}
}
