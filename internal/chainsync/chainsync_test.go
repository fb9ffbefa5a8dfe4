package chainsync

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solidfund/charityfund/internal/charity"
	"github.com/solidfund/charityfund/internal/charity/charitytest"
	"github.com/solidfund/charityfund/internal/explorer"
	"github.com/solidfund/charityfund/internal/retry"
)

var (
	fundAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	safeAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	donor    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newSync(t *testing.T, f *charitytest.Fund) *Synchronizer {
	t.Helper()
	rc, stop, err := f.DialInProc()
	require.NoError(t, err)
	t.Cleanup(stop)
	return New(
		charity.NewReader(rc, f.Address()),
		&LogHistory{Filterer: f, Contract: f.Address()},
		f,
		Options{Contract: f.Address(), PollInterval: 5 * time.Millisecond, Retry: retry.Policy{Attempts: 1}},
	)
}

func TestDonationBelowThreshold(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)
	ctx := context.Background()

	before, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, before.Balance.Sign())

	f.Donate(donor, charitytest.Eth(1))
	require.NoError(t, s.Refresh(ctx))

	st := s.State()
	require.NotNil(t, st.Snapshot)
	assert.Equal(t, charitytest.Eth(1).String(), st.Snapshot.Balance.String())
	assert.Empty(t, st.Transfers)
	require.Len(t, st.Donations, 1)
	assert.Equal(t, new(big.Int).Add(before.Balance, charitytest.Eth(1)).String(), st.Donations[0].Balance.String())
	assert.Equal(t, donor, st.Donations[0].Donor)
}

func TestThresholdTriggersOneAutoTransfer(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)
	ctx := context.Background()

	for _, amt := range []float64{1, 2, 3} {
		f.Donate(donor, charitytest.Eth(amt))
	}
	require.NoError(t, s.Refresh(ctx))

	st := s.State()
	require.Len(t, st.Transfers, 1)
	tr := st.Transfers[0]
	assert.Equal(t, charity.TransferAuto, tr.Kind)
	assert.Equal(t, safeAddr, tr.Counterparty)
	assert.Equal(t, charitytest.Eth(6).String(), tr.Amount.String())

	assert.Len(t, st.Donations, 3)
	assert.Equal(t, charitytest.Eth(3).String(), st.Donations[0].Amount.String(), "newest first")
	assert.Equal(t, 0, st.Snapshot.Balance.Sign())
	assert.Equal(t, charitytest.Eth(6).String(), st.Snapshot.TotalTransferred.String())
	assert.Equal(t, charitytest.Eth(6).String(), st.Snapshot.SafeBalance.String())
}

func TestFailedRefreshKeepsPreviousSnapshot(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)
	ctx := context.Background()

	f.Donate(donor, charitytest.Eth(1))
	good, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)

	f.Donate(donor, charitytest.Eth(2))
	f.Fail("getTotalReceive", errors.New("header not found"))
	_, err = s.LoadSnapshot(ctx)
	require.Error(t, err)

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, good.Balance.String(), snap.Balance.String())
	assert.Equal(t, good.TotalReceived.String(), snap.TotalReceived.String())
	assert.Equal(t, good.Threshold.String(), snap.Threshold.String())
}

func TestLegacyThresholdSnapshot(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	f.SetLegacy(true)
	snap, err := newSync(t, f).LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.LegacyThreshold)
	assert.Equal(t, charitytest.Eth(5).String(), snap.Threshold.String())
}

// gatedReader blocks the first Read until release is closed.
type gatedReader struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	entered chan struct{}
}

func (g *gatedReader) Read(ctx context.Context) (charity.State, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	if n == 1 {
		close(g.entered)
		<-g.release
	}
	return charity.State{
		Balance:          big.NewInt(int64(n)),
		Threshold:        big.NewInt(5),
		TotalReceived:    big.NewInt(0),
		TotalTransferred: big.NewInt(0),
		SafeBalance:      big.NewInt(0),
	}, nil
}

func TestSupersededRefreshIsDropped(t *testing.T) {
	g := &gatedReader{release: make(chan struct{}), entered: make(chan struct{})}
	s := New(g, nil, nil, Options{Retry: retry.Policy{Attempts: 1}})
	ctx := context.Background()

	slow := make(chan Snapshot, 1)
	go func() {
		snap, _ := s.LoadSnapshot(ctx)
		slow <- snap
	}()
	<-g.entered

	fast, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", fast.Balance.String())

	close(g.release)
	got := <-slow
	assert.Equal(t, "2", got.Balance.String(), "older refresh returns the newer snapshot")

	snap, _ := s.Snapshot()
	assert.Equal(t, "2", snap.Balance.String())
}

func TestMergeTransfers(t *testing.T) {
	h := common.HexToHash("0xaa")
	in := []charity.Transfer{
		{TxHash: h, Amount: big.NewInt(5), Timestamp: 100},
		{TxHash: h, Amount: big.NewInt(3), Timestamp: 200},
		{TxHash: common.HexToHash("0xbb"), Amount: big.NewInt(1), Timestamp: 150},
	}
	out := MergeTransfers(in)
	require.Len(t, out, 2)
	assert.Equal(t, h, out[0].TxHash)
	assert.Equal(t, uint64(200), out[0].Timestamp, "later timestamp wins")
	assert.Equal(t, "3", out[0].Amount.String())

	out = MergeTransfers([]charity.Transfer{
		{TxHash: h, Amount: big.NewInt(1), Timestamp: 100},
		{TxHash: h, Amount: big.NewInt(9), Timestamp: 100},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "9", out[0].Amount.String(), "larger amount wins")
}

func TestMergeDonations(t *testing.T) {
	out := MergeDonations([]charity.Donation{
		{TxHash: common.HexToHash("0x1"), Amount: big.NewInt(1), Timestamp: 10},
		{TxHash: common.HexToHash("0x2"), Amount: big.NewInt(0), Timestamp: 30},
		{TxHash: common.HexToHash("0x3"), Amount: big.NewInt(2), Timestamp: 20},
		{TxHash: common.HexToHash("0x1"), Amount: big.NewInt(1), Timestamp: 10},
	})
	require.Len(t, out, 2)
	assert.Equal(t, uint64(20), out[0].Timestamp)
	assert.Equal(t, uint64(10), out[1].Timestamp)
}

func TestDuplicateLogsCollapse(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(1))
	s := newSync(t, f)
	f.Donate(donor, charitytest.Eth(2)) // auto-transfers 2
	logs := f.Logs()
	f.AppendLog(logs[1])

	transfers, err := s.LoadTransfers(context.Background())
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

type failingHistory struct{ err error }

func (h failingHistory) Donations(context.Context) ([]charity.Donation, error) { return nil, h.err }
func (h failingHistory) Transfers(context.Context) ([]charity.Transfer, error) { return nil, h.err }

func TestHistoryFailureKeepsLastList(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)
	f.Donate(donor, charitytest.Eth(1))
	_, err := s.LoadDonations(context.Background())
	require.NoError(t, err)

	s.history = failingHistory{err: errors.New("503")}
	list, err := s.LoadDonations(context.Background())
	require.Error(t, err)
	assert.Len(t, list, 1)
	assert.Len(t, s.State().Donations, 1)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)

	teardown1, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	teardown2, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ActiveSubscriptions())

	f.Donate(donor, charitytest.Eth(1))
	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot()
		return ok && snap.Balance.Cmp(charitytest.Eth(1)) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.State().Donations) == 1 }, 2*time.Second, 5*time.Millisecond)

	teardown1()
	assert.Equal(t, 0, f.ActiveSubscriptions())
	assert.False(t, s.Subscribed())
	teardown2()

	teardown3, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.ActiveSubscriptions())
	teardown3()
	assert.Equal(t, 0, f.ActiveSubscriptions())
}

func TestSubscribeAfterParentContextEnds(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Subscribe(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.ActiveSubscriptions())

	cancel()
	require.Eventually(t, func() bool {
		return f.ActiveSubscriptions() == 0 && !s.Subscribed()
	}, 2*time.Second, 5*time.Millisecond)

	teardown, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	defer teardown()
	assert.True(t, s.Subscribed())
	assert.Equal(t, 1, f.ActiveSubscriptions())

	f.Donate(donor, charitytest.Eth(1))
	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot()
		return ok && snap.Balance.Cmp(charitytest.Eth(1)) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTeardownFromObserver(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	s := newSync(t, f)

	teardown, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	called := make(chan struct{})
	var once sync.Once
	remove := s.OnChange(func(State) {
		teardown()
		once.Do(func() { close(called) })
	})
	defer remove()

	f.Donate(donor, charitytest.Eth(1))
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("observer teardown did not return")
	}
	require.Eventually(t, func() bool {
		return f.ActiveSubscriptions() == 0 && !s.Subscribed()
	}, 2*time.Second, 5*time.Millisecond)
	teardown()
}

func TestSubscribeFallsBackToPolling(t *testing.T) {
	f := charitytest.NewFund(fundAddr, safeAddr, charitytest.Eth(5))
	f.SetNoSubscriptions(true)
	f.Donate(donor, charitytest.Eth(1))
	s := newSync(t, f)

	teardown, err := s.Subscribe(context.Background())
	require.NoError(t, err)
	defer teardown()

	var changes int
	var mu sync.Mutex
	remove := s.OnChange(func(State) { mu.Lock(); changes++; mu.Unlock() })
	defer remove()

	f.Donate(donor, charitytest.Eth(2))
	require.Eventually(t, func() bool {
		snap, ok := s.Snapshot()
		return ok && snap.Balance.Cmp(charitytest.Eth(3)) == 0
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Positive(t, changes)
	mu.Unlock()
}

type fakeLister struct{ txs []explorer.Tx }

func (l fakeLister) Transactions(context.Context, string, string) ([]explorer.Tx, error) {
	return l.txs, nil
}

func TestExplorerHistory(t *testing.T) {
	h := &ExplorerHistory{
		Lister: fakeLister{txs: []explorer.Tx{
			{Hash: "0x01", From: donor.Hex(), To: fundAddr.Hex(), Value: "1000", TimeStamp: "10", IsError: "0"},
			{Hash: "0x02", From: donor.Hex(), To: fundAddr.Hex(), Value: "0", TimeStamp: "11", IsError: "0", Input: "0xabcdef01"},
			{Hash: "0x03", From: donor.Hex(), To: fundAddr.Hex(), Value: "5", TimeStamp: "12", IsError: "1"},
			{Hash: "0x04", From: fundAddr.Hex(), To: donor.Hex(), Value: "7", TimeStamp: "13", IsError: "0"},
		}},
		Network:  "sepolia",
		Contract: fundAddr,
	}
	raw, err := h.Donations(context.Background())
	require.NoError(t, err)
	merged := MergeDonations(raw)
	require.Len(t, merged, 1)
	assert.Equal(t, "1000", merged[0].Amount.String())
	assert.Nil(t, merged[0].Balance)

	transfers, err := h.Transfers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, transfers)
}
