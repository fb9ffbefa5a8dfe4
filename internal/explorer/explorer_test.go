package explorer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solidfund/charityfund/internal/config"
)

const addr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

func TestTransactions(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0xabc","from":"0x1","to":"` + addr + `","value":"1000","timeStamp":"1700000000","isError":"0"}]}`))
	}))
	defer srv.Close()

	c := NewClient(map[string]string{"sepolia": srv.URL}, "KEY", nil)
	txs, err := c.Transactions(context.Background(), "sepolia", addr)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "0xabc", txs[0].Hash)
	assert.Equal(t, "1000", txs[0].Value)

	assert.Equal(t, "account", gotQuery["module"])
	assert.Equal(t, "txlist", gotQuery["action"])
	assert.Equal(t, addr, gotQuery["address"])
	assert.Equal(t, "0", gotQuery["startblock"])
	assert.Equal(t, "99999999", gotQuery["endblock"])
	assert.Equal(t, "asc", gotQuery["sort"])
	assert.Equal(t, "KEY", gotQuery["apikey"])
}

func TestTransactionsNonOKStatusIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":"Max rate limit reached"}`))
	}))
	defer srv.Close()

	txs, err := NewClient(map[string]string{"sepolia": srv.URL}, "", nil).Transactions(context.Background(), "sepolia", addr)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.NotNil(t, txs)
}

func TestTransactionsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewClient(map[string]string{"sepolia": srv.URL}, "", nil).Transactions(context.Background(), "sepolia", addr)
	require.Error(t, err)
}

func TestBaseFor(t *testing.T) {
	c := NewClient(nil, "", nil)
	assert.Equal(t, "https://api.etherscan.io/api", c.BaseFor("MAINNET"))
	assert.Equal(t, "https://api-holesky.etherscan.io/api", c.BaseFor("holesky"))
	assert.Equal(t, "https://api-sepolia.etherscan.io/api", c.BaseFor("goerli"))

	nets, err := config.LoadNetworks("")
	require.NoError(t, err)
	bases := BasesFromNetworks(nets)
	assert.Equal(t, DefaultBases, bases, "localhost has no explorer")
}

func TestProxyClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions", r.URL.Path)
		if r.URL.Query().Get("address") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Missing address parameter"}`))
			return
		}
		assert.Equal(t, "mainnet", r.URL.Query().Get("network"))
		_, _ = w.Write([]byte(`{"transactions":[{"hash":"0x1"},{"hash":"0x2"}]}`))
	}))
	defer srv.Close()

	p := NewProxyClient(srv.URL+"/", nil)
	txs, err := p.Transactions(context.Background(), "mainnet", addr)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	_, err = p.Transactions(context.Background(), "mainnet", "")
	require.EqualError(t, err, "proxy: Missing address parameter")
}
