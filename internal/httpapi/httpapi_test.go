package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solidfund/charityfund/internal/explorer"
)

type fakeLister struct {
	mu       sync.Mutex
	txs      []explorer.Tx
	err      error
	calls    int
	networks []string
}

func (f *fakeLister) Transactions(_ context.Context, network, _ string) ([]explorer.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.networks = append(f.networks, network)
	return f.txs, f.err
}

func newTestRouter(l explorer.Lister, ttl time.Duration, perMin int) http.Handler {
	return NewRouter(Config{Explorer: l, CacheTTL: ttl, RateLimitPerMinute: perMin, Logger: zerolog.Nop()})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHealth(t *testing.T) {
	rr := get(t, newTestRouter(&fakeLister{}, 0, 0), "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestTransactionsRequiresAddress(t *testing.T) {
	l := &fakeLister{}
	rr := get(t, newTestRouter(l, 0, 0), "/api/transactions?network=mainnet")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Missing address parameter"}`, rr.Body.String())
	assert.Zero(t, l.calls)
}

func TestTransactionsDefaultsToSepolia(t *testing.T) {
	l := &fakeLister{txs: []explorer.Tx{{Hash: "0xabc", Value: "1000", IsError: "0"}}}
	rr := get(t, newTestRouter(l, 0, 0), "/api/transactions?address=0x00000000000000000000000000000000000000f0")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Transactions []explorer.Tx `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Transactions, 1)
	assert.Equal(t, "0xabc", body.Transactions[0].Hash)
	assert.Equal(t, []string{"sepolia"}, l.networks)
}

func TestTransactionsEmptyListIsArray(t *testing.T) {
	rr := get(t, newTestRouter(&fakeLister{}, 0, 0), "/api/transactions?address=0x1&network=holesky")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"transactions":[]}`, rr.Body.String())
}

func TestTransactionsUpstreamFailure(t *testing.T) {
	rr := get(t, newTestRouter(&fakeLister{err: errors.New("dial tcp: connection refused")}, 0, 0), "/api/transactions?address=0x1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch transactions"}`, rr.Body.String())
}

func TestTransactionsCached(t *testing.T) {
	l := &fakeLister{txs: []explorer.Tx{{Hash: "0x1"}}}
	h := newTestRouter(l, time.Minute, 0)

	first := get(t, h, "/api/transactions?address=0xAB")
	second := get(t, h, "/api/transactions?address=0xab")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, l.calls)

	get(t, h, "/api/transactions?address=0xab&network=mainnet")
	assert.Equal(t, 2, l.calls)
}

func TestTransactionsFailureNotCached(t *testing.T) {
	l := &fakeLister{err: errors.New("boom")}
	h := newTestRouter(l, time.Minute, 0)
	get(t, h, "/api/transactions?address=0x1")
	get(t, h, "/api/transactions?address=0x1")
	assert.Equal(t, 2, l.calls)
}

func TestTxCacheExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewTxCache(10 * time.Second)
	c.now = func() time.Time { return now }

	c.Put("sepolia", "0xA", []explorer.Tx{{Hash: "0x1"}})
	txs, fresh := c.Get("sepolia", "0xa")
	assert.True(t, fresh)
	assert.Len(t, txs, 1)

	now = now.Add(11 * time.Second)
	txs, fresh = c.Get("sepolia", "0xa")
	assert.False(t, fresh)
	assert.Len(t, txs, 1)

	c.Put("sepolia", "0xb", nil)
	_, ok := c.entries[cacheKey("sepolia", "0xa")]
	assert.False(t, ok, "stale entry should be evicted")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(&fakeLister{}, 0, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/transactions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(&fakeLister{}, 0, 2)
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, get(t, h, "/api/transactions?address=0x1").Code)
	}
	rr := get(t, h, "/api/transactions?address=0x1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{"single forwarded", "203.0.113.1", "198.51.100.10:1234", "203.0.113.1"},
		{"first valid of many", " 203.0.113.1 , 198.51.100.2 ", "198.51.100.10:1234", "203.0.113.1"},
		{"invalid forwarded", "invalid", "198.51.100.10:1234", "198.51.100.10"},
		{"no header", "", "198.51.100.10:1234", "198.51.100.10"},
		{"ipv6 remote", "", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::2"},
		{"remote without port", "", "203.0.113.1", "203.0.113.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
