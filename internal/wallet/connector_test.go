package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solidfund/charityfund/internal/errs"
	"github.com/solidfund/charityfund/internal/safe"
)

var (
	userAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	safeAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	fundAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

type fakeProvider struct {
	mu        sync.Mutex
	accounts  []common.Address
	accErr    error
	chainID   int64
	switchErr error
	switches  int
	balances  map[common.Address]*big.Int
	balErr    error
	code      map[common.Address][]byte
	codeErr   error
	codeCalls int
	sent      []TxRequest
	events    chan Event
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts: []common.Address{userAddr},
		chainID:  31337,
		balances: map[common.Address]*big.Int{userAddr: big.NewInt(100), safeAddr: big.NewInt(500)},
		code:     map[common.Address][]byte{safeAddr: {0x60}},
		events:   make(chan Event, 4),
	}
}

func (f *fakeProvider) Accounts(context.Context) ([]common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.Address(nil), f.accounts...), f.accErr
}

func (f *fakeProvider) ChainID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chainID, nil
}

func (f *fakeProvider) BalanceAt(_ context.Context, a common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return nil, f.balErr
	}
	if b, ok := f.balances[a]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeProvider) CodeAt(_ context.Context, a common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeCalls++
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	return f.code[a], nil
}

func (f *fakeProvider) SwitchChain(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches++
	if f.switchErr != nil {
		return f.switchErr
	}
	f.chainID = id
	return nil
}

func (f *fakeProvider) SendTransaction(_ context.Context, req TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeProvider) WaitMined(context.Context, common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

func (f *fakeProvider) SignHash(_ context.Context, h common.Hash) ([]byte, error) {
	sig := make([]byte, 65)
	copy(sig, h.Bytes())
	sig[64] = 27
	return sig, nil
}

func (f *fakeProvider) Events() <-chan Event { return f.events }

func (f *fakeProvider) setBalance(a common.Address, v int64) {
	f.mu.Lock()
	f.balances[a] = big.NewInt(v)
	f.mu.Unlock()
}

type fakeService struct {
	mu        sync.Mutex
	info      safe.Info
	infoErr   error
	proposals []safe.Proposal
}

func (s *fakeService) Info(context.Context, common.Address) (safe.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.infoErr
}

func (s *fakeService) Propose(_ context.Context, _ common.Address, p safe.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = append(s.proposals, p)
	return nil
}

func testOptions() Options {
	return Options{
		TargetChainID:     31337,
		BalanceInterval:   5 * time.Millisecond,
		HandshakeTimeout:  time.Second,
		SafeRetryDelay:    time.Millisecond,
		SafeRetryAttempts: 2,
	}
}

func TestConnect(t *testing.T) {
	p := newFakeProvider()
	c := NewConnector(p, nil, testOptions())

	var seen []Session
	remove := c.OnChange(func(s Session) { seen = append(seen, s) })
	defer remove()

	s, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Connected)
	assert.Equal(t, KindDirect, s.Kind)
	assert.Equal(t, userAddr, s.Address)
	assert.Equal(t, "100", s.Balance.String())
	assert.Equal(t, int64(31337), s.ChainID)
	require.Len(t, seen, 1)

	s.Balance.SetInt64(1)
	assert.Equal(t, "100", c.Session().Balance.String(), "session copies are independent")
}

func TestConnectErrors(t *testing.T) {
	_, err := NewConnector(nil, nil, testOptions()).Connect(context.Background())
	assert.ErrorIs(t, err, errs.ErrConnection)

	p := newFakeProvider()
	p.accErr = errors.New("User rejected the request. code 4001")
	_, err = NewConnector(p, nil, testOptions()).Connect(context.Background())
	assert.ErrorIs(t, err, errs.ErrConnection)

	p = newFakeProvider()
	p.accounts = nil
	_, err = NewConnector(p, nil, testOptions()).Connect(context.Background())
	assert.ErrorIs(t, err, errs.ErrConnection)
}

func TestConnectSwitchesChain(t *testing.T) {
	p := newFakeProvider()
	p.chainID = 1
	s, err := NewConnector(p, nil, testOptions()).Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(31337), s.ChainID)
	assert.Equal(t, 1, p.switches)

	p = newFakeProvider()
	p.chainID = 1
	p.switchErr = errors.New("unrecognized chain")
	s, err = NewConnector(p, nil, testOptions()).Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ChainID, "session reports the actual chain")
}

func TestConnectSafe(t *testing.T) {
	p := newFakeProvider()
	svc := &fakeService{info: safe.Info{Address: safeAddr, Threshold: 2, Nonce: 4, Owners: []common.Address{userAddr}}}
	c := NewConnector(p, svc, testOptions())

	s, err := c.ConnectSafe(context.Background(), ConnectSafeOptions{Address: safeAddr})
	require.NoError(t, err)
	assert.Equal(t, KindSafe, s.Kind)
	assert.Equal(t, safeAddr, s.Address)
	assert.Equal(t, userAddr, s.Owner)
	assert.Equal(t, "500", s.Balance.String())
	require.NotNil(t, s.Safe)
	assert.Equal(t, 2, s.Safe.Threshold)
}

func TestConnectSafeRejectsNonSafe(t *testing.T) {
	p := newFakeProvider()
	svc := &fakeService{}
	_, err := NewConnector(p, svc, testOptions()).ConnectSafe(context.Background(), ConnectSafeOptions{Address: userAddr, Confirmed: true})
	assert.ErrorIs(t, err, errs.ErrSafeHandshake)
}

func TestConnectSafeNotOwner(t *testing.T) {
	p := newFakeProvider()
	svc := &fakeService{info: safe.Info{Owners: []common.Address{fundAddr}}}
	_, err := NewConnector(p, svc, testOptions()).ConnectSafe(context.Background(), ConnectSafeOptions{Address: safeAddr})
	assert.ErrorIs(t, err, errs.ErrNotOwner)
}

func TestConnectSafeUnknownNeedsConfirmation(t *testing.T) {
	p := newFakeProvider()
	p.codeErr = context.DeadlineExceeded
	svc := &fakeService{}
	c := NewConnector(p, svc, testOptions())

	_, err := c.ConnectSafe(context.Background(), ConnectSafeOptions{Address: safeAddr})
	assert.ErrorIs(t, err, errs.ErrSafeHandshake)
	assert.Equal(t, 2, p.codeCalls, "one retry after the first failure")
	assert.False(t, c.Session().Connected)

	s, err := c.ConnectSafe(context.Background(), ConnectSafeOptions{Address: safeAddr, Confirmed: true})
	require.NoError(t, err)
	assert.True(t, s.Connected)
	assert.Nil(t, s.Safe)
}

func TestDisconnect(t *testing.T) {
	c := NewConnector(newFakeProvider(), nil, testOptions())
	_, err := c.Connect(context.Background())
	require.NoError(t, err)
	c.Disconnect()
	assert.False(t, c.Session().Connected)
	assert.Nil(t, c.Session().Balance)
}

func TestRefreshBalanceKeepsLastValueOnError(t *testing.T) {
	p := newFakeProvider()
	c := NewConnector(p, nil, testOptions())
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	p.setBalance(userAddr, 42)
	c.RefreshBalance(context.Background())
	assert.Equal(t, "42", c.Session().Balance.String())

	p.mu.Lock()
	p.balErr = errors.New("503")
	p.mu.Unlock()
	c.RefreshBalance(context.Background())
	assert.Equal(t, "42", c.Session().Balance.String())
}

func TestRunRefreshesAndHandlesEvents(t *testing.T) {
	p := newFakeProvider()
	c := NewConnector(p, nil, testOptions())
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	p.setBalance(userAddr, 7)
	require.Eventually(t, func() bool { return c.Session().Balance.String() == "7" }, time.Second, 5*time.Millisecond)

	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	p.mu.Lock()
	p.accounts = []common.Address{other}
	p.mu.Unlock()
	p.events <- Event{Kind: AccountsChanged, Accounts: []common.Address{other}}
	require.Eventually(t, func() bool { return c.Session().Address == other }, time.Second, 5*time.Millisecond)

	p.events <- Event{Kind: ChainChanged, ChainID: 31337}
	require.Eventually(t, func() bool { return c.Session().Connected }, time.Second, 5*time.Millisecond)

	p.events <- Event{Kind: AccountsChanged}
	require.Eventually(t, func() bool { return !c.Session().Connected }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestProposeSafeTx(t *testing.T) {
	p := newFakeProvider()
	svc := &fakeService{info: safe.Info{Nonce: 9, Owners: []common.Address{userAddr}}}
	c := NewConnector(p, svc, testOptions())

	_, err := c.ProposeSafeTx(context.Background(), TxRequest{To: fundAddr})
	assert.ErrorIs(t, err, errs.ErrConnection)

	_, err = c.ConnectSafe(context.Background(), ConnectSafeOptions{Address: safeAddr})
	require.NoError(t, err)

	h, err := c.ProposeSafeTx(context.Background(), TxRequest{To: fundAddr, Data: []byte{1}})
	require.NoError(t, err)
	require.Len(t, svc.proposals, 1)
	prop := svc.proposals[0]
	assert.Equal(t, h, prop.SafeTxHash)
	assert.Equal(t, uint64(9), prop.Tx.Nonce)
	assert.Equal(t, userAddr, prop.Sender)

	want, err := safe.Tx{To: fundAddr, Data: []byte{1}, Nonce: 9}.Hash(big.NewInt(31337), safeAddr)
	require.NoError(t, err)
	assert.Equal(t, want, h)

	_, err = c.Send(context.Background(), TxRequest{To: fundAddr})
	assert.Error(t, err, "Safe sessions cannot send directly")
}
