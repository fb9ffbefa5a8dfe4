// Package charitytest provides an in-memory CharityFund for tests. It
// serves eth_call/eth_getBalance over an in-process JSON-RPC server and
// implements ethereum.LogFilterer over the logs it emits.
package charitytest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/solidfund/charityfund/internal/charity"
)

// Ether is 1e18 wei.
var Ether = big.NewInt(1_000_000_000_000_000_000)

// Eth returns n ether in wei; n may be fractional with up to 3 decimals.
func Eth(n float64) *big.Int {
	milli := big.NewInt(int64(n*1000 + 0.5))
	return milli.Mul(milli, big.NewInt(1_000_000_000_000_000))
}

// Fund mimics the contract: donations accumulate until the balance reaches
// the threshold, then the whole balance is auto-transferred to the safe.
type Fund struct {
	mu          sync.Mutex
	addr        common.Address
	safe        common.Address
	balance     *big.Int
	threshold   *big.Int
	received    *big.Int
	transferred *big.Int
	balances    map[common.Address]*big.Int
	legacy      bool
	failing     map[string]error
	logs        []types.Log
	block       uint64
	clock       uint64
	nonce       uint64
	chainID     int64

	noSubs bool
	subs   map[*subscription]struct{}
	calls  int
}

// NewFund creates an empty fund at addr forwarding to safe.
func NewFund(addr, safe common.Address, threshold *big.Int) *Fund {
	return &Fund{
		addr:        addr,
		safe:        safe,
		balance:     new(big.Int),
		threshold:   new(big.Int).Set(threshold),
		received:    new(big.Int),
		transferred: new(big.Int),
		balances:    map[common.Address]*big.Int{},
		failing:     map[string]error{},
		clock:       1_700_000_000,
		chainID:     31337,
		subs:        map[*subscription]struct{}{},
	}
}

// Address of the contract.
func (f *Fund) Address() common.Address { return f.addr }

// SetLegacy makes capAmountForAutoTransfering return no data, like a
// deployment that predates it and only has THRESHOLD().
func (f *Fund) SetLegacy(v bool) { f.mu.Lock(); f.legacy = v; f.mu.Unlock() }

// SetNoSubscriptions makes SubscribeFilterLogs report that push
// notifications are unsupported.
func (f *Fund) SetNoSubscriptions(v bool) { f.mu.Lock(); f.noSubs = v; f.mu.Unlock() }

// SetChainID changes the value served by eth_chainId.
func (f *Fund) SetChainID(id int64) { f.mu.Lock(); f.chainID = id; f.mu.Unlock() }

// Fail makes calls to the named function return err; nil clears it.
func (f *Fund) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failing, method)
		return
	}
	f.failing[method] = err
}

// SetBalance sets the native balance of an externally owned account.
func (f *Fund) SetBalance(addr common.Address, v *big.Int) {
	f.mu.Lock()
	f.balances[addr] = new(big.Int).Set(v)
	f.mu.Unlock()
}

// Balance is the current contract balance.
func (f *Fund) Balance() *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance)
}

// Safe is the current safe address.
func (f *Fund) Safe() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.safe
}

// Calls counts eth_call requests served.
func (f *Fund) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Donate receives amount from donor and returns the transaction hash.
func (f *Fund) Donate(donor common.Address, amount *big.Int) common.Hash {
	f.mu.Lock()
	tx := f.nextTx()
	f.balance.Add(f.balance, amount)
	f.received.Add(f.received, amount)
	out := []types.Log{f.emit(tx, charity.EventDonationReceived, donor, new(big.Int).Set(amount), new(big.Int).Set(f.balance), f.now())}
	if f.balance.Sign() > 0 && f.balance.Cmp(f.threshold) >= 0 {
		moved := new(big.Int).Set(f.balance)
		f.transferred.Add(f.transferred, moved)
		f.credit(f.safe, moved)
		f.balance.SetInt64(0)
		out = append(out, f.emit(tx, charity.EventAutoTransfer, moved, f.safe, f.now()))
	}
	f.mu.Unlock()
	f.deliver(out)
	return tx
}

// ManualTransfer moves amount to the safe on behalf of by.
func (f *Fund) ManualTransfer(by common.Address, amount *big.Int) (common.Hash, error) {
	f.mu.Lock()
	if amount.Sign() <= 0 || amount.Cmp(f.balance) > 0 {
		f.mu.Unlock()
		return common.Hash{}, errors.New("execution reverted: Invalid amount")
	}
	tx := f.nextTx()
	f.balance.Sub(f.balance, amount)
	f.transferred.Add(f.transferred, amount)
	f.credit(f.safe, amount)
	l := f.emit(tx, charity.EventManualTransfer, new(big.Int).Set(amount), by, f.now())
	f.mu.Unlock()
	f.deliver([]types.Log{l})
	return tx, nil
}

// UpdateSafe points the fund at a new safe.
func (f *Fund) UpdateSafe(newSafe common.Address) common.Hash {
	f.mu.Lock()
	tx := f.nextTx()
	old := f.safe
	f.safe = newSafe
	l := f.emit(tx, charity.EventSafeUpdated, old, newSafe, f.now())
	f.mu.Unlock()
	f.deliver([]types.Log{l})
	return tx
}

// AppendLog records an arbitrary log, for duplicate and ordering tests.
func (f *Fund) AppendLog(l types.Log) {
	f.mu.Lock()
	f.logs = append(f.logs, l)
	f.mu.Unlock()
	f.deliver([]types.Log{l})
}

// Logs returns a copy of every emitted log.
func (f *Fund) Logs() []types.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Log(nil), f.logs...)
}

func (f *Fund) nextTx() common.Hash {
	f.nonce++
	f.block++
	f.clock += 12
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], f.nonce)
	return crypto.Keccak256Hash(f.addr.Bytes(), b[:])
}

func (f *Fund) now() *big.Int { return new(big.Int).SetUint64(f.clock) }

func (f *Fund) credit(addr common.Address, v *big.Int) {
	cur, ok := f.balances[addr]
	if !ok {
		cur = new(big.Int)
		f.balances[addr] = cur
	}
	cur.Add(cur, v)
}

func (f *Fund) emit(tx common.Hash, name string, args ...interface{}) types.Log {
	l, err := charity.EncodeLog(f.addr, name, args...)
	if err != nil {
		panic(err)
	}
	l.TxHash = tx
	l.BlockNumber = f.block
	l.Index = uint(len(f.logs))
	f.logs = append(f.logs, l)
	return l
}

// FilterLogs implements ethereum.LogFilterer.
func (f *Fund) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing["eth_getLogs"]; err != nil {
		return nil, err
	}
	var out []types.Log
	for _, l := range f.logs {
		if matches(q, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// SubscribeFilterLogs implements ethereum.LogFilterer.
func (f *Fund) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noSubs {
		return nil, rpc.ErrNotificationsUnsupported
	}
	s := &subscription{f: f, q: q, ch: ch, done: make(chan struct{}), errc: make(chan error)}
	f.subs[s] = struct{}{}
	return s, nil
}

// ActiveSubscriptions counts subscriptions not yet unsubscribed.
func (f *Fund) ActiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fund) deliver(logs []types.Log) {
	f.mu.Lock()
	subs := make([]*subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		for _, l := range logs {
			if !matches(s.q, l) {
				continue
			}
			select {
			case s.ch <- l:
			case <-s.done:
			}
		}
	}
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && q.ToBlock.Sign() >= 0 && l.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			found = found || a == l.Address
		}
		if !found {
			return false
		}
	}
	if len(q.Topics) > 0 && len(q.Topics[0]) > 0 {
		if len(l.Topics) == 0 {
			return false
		}
		found := false
		for _, t := range q.Topics[0] {
			found = found || t == l.Topics[0]
		}
		if !found {
			return false
		}
	}
	return true
}

type subscription struct {
	f    *Fund
	q    ethereum.FilterQuery
	ch   chan<- types.Log
	done chan struct{}
	errc chan error
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.f.mu.Lock()
		delete(s.f.subs, s)
		s.f.mu.Unlock()
		close(s.done)
		close(s.errc)
	})
}

func (s *subscription) Err() <-chan error { return s.errc }

// DialInProc starts an in-process JSON-RPC server backed by the fund.
func (f *Fund) DialInProc() (*rpc.Client, func(), error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", &ethService{f: f}); err != nil {
		return nil, nil, err
	}
	c := rpc.DialInProc(srv)
	return c, func() { c.Close(); srv.Stop() }, nil
}

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

type ethService struct{ f *Fund }

func (s *ethService) ChainId() hexutil.Big {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return hexutil.Big(*big.NewInt(s.f.chainID))
}

func (s *ethService) BlockNumber() hexutil.Uint64 {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	return hexutil.Uint64(s.f.block)
}

func (s *ethService) GetBalance(addr common.Address, block *json.RawMessage) (*hexutil.Big, error) {
	f := s.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing["eth_getBalance"]; err != nil {
		return nil, err
	}
	if addr == f.addr {
		return (*hexutil.Big)(new(big.Int).Set(f.balance)), nil
	}
	if v, ok := f.balances[addr]; ok {
		return (*hexutil.Big)(new(big.Int).Set(v)), nil
	}
	return (*hexutil.Big)(new(big.Int)), nil
}

func (s *ethService) Call(args callArgs, block *json.RawMessage, overrides *json.RawMessage) (hexutil.Bytes, error) {
	f := s.f
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	input := args.Input
	if input == nil {
		input = args.Data
	}
	if args.To == nil || *args.To != f.addr || input == nil || len(*input) < 4 {
		return hexutil.Bytes{}, nil
	}
	m, err := charity.ABI.MethodById((*input)[:4])
	if err != nil {
		return nil, errors.New("execution reverted")
	}
	if err := f.failing[m.Name]; err != nil {
		return nil, err
	}
	var v interface{}
	switch m.Name {
	case "getBalance":
		v = new(big.Int).Set(f.balance)
	case "capAmountForAutoTransfering":
		if f.legacy {
			return hexutil.Bytes{}, nil
		}
		v = new(big.Int).Set(f.threshold)
	case "THRESHOLD":
		v = new(big.Int).Set(f.threshold)
	case "getTotalReceive":
		v = new(big.Int).Set(f.received)
	case "getTotalTransfer":
		v = new(big.Int).Set(f.transferred)
	case "safe":
		v = f.safe
	case "isAboveThreshold":
		v = f.balance.Cmp(f.threshold) >= 0
	default:
		return nil, fmt.Errorf("execution reverted: %s is not a view", m.Name)
	}
	return m.Outputs.Pack(v)
}
