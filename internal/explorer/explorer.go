// Package explorer reads account transaction lists from Etherscan-style
// APIs, either directly or through the charityd proxy.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solidfund/charityfund/internal/config"
)

// DefaultNetwork is used when a request names no network.
const DefaultNetwork = "sepolia"

// Tx is one entry of an account txlist. Etherscan sends every field as a string.
type Tx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
	Input           string `json:"input"`
	FunctionName    string `json:"functionName"`
	GasUsed         string `json:"gasUsed"`
}

// Lister returns the transactions of address on network.
type Lister interface {
	Transactions(ctx context.Context, network, address string) ([]Tx, error)
}

// Client calls Etherscan-compatible APIs.
type Client struct {
	bases  map[string]string
	apiKey string
	http   *http.Client
}

// DefaultBases are the Etherscan API endpoints per network.
var DefaultBases = map[string]string{
	"sepolia": "https://api-sepolia.etherscan.io/api",
	"mainnet": "https://api.etherscan.io/api",
	"holesky": "https://api-holesky.etherscan.io/api",
}

// BasesFromNetworks collects the explorer API of every network that has one.
func BasesFromNetworks(nets config.Networks) map[string]string {
	out := map[string]string{}
	for k, n := range nets {
		if n.ExplorerAPI != "" {
			out[k] = n.ExplorerAPI
		}
	}
	return out
}

// NewClient builds a client. Empty bases fall back to DefaultBases.
func NewClient(bases map[string]string, apiKey string, hc *http.Client) *Client {
	if len(bases) == 0 {
		bases = DefaultBases
	}
	if hc == nil {
		hc = &http.Client{Timeout: 12 * time.Second}
	}
	return &Client{bases: bases, apiKey: apiKey, http: hc}
}

// BaseFor resolves the API base of network; unknown names use sepolia.
func (c *Client) BaseFor(network string) string {
	if b, ok := c.bases[strings.ToLower(network)]; ok {
		return b
	}
	if b, ok := c.bases[DefaultNetwork]; ok {
		return b
	}
	return DefaultBases[DefaultNetwork]
}

type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Transactions lists normal transactions of address in ascending order.
// A response with status other than "1" (including "No transactions found")
// yields an empty list.
func (c *Client) Transactions(ctx context.Context, network, address string) ([]Tx, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("sort", "asc")
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseFor(network)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer: %w", err)
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer: %s", resp.Status)
	}
	var ar apiResponse
	if err := json.Unmarshal(rb, &ar); err != nil {
		return nil, fmt.Errorf("explorer: decode: %w", err)
	}
	if ar.Status != "1" {
		return []Tx{}, nil
	}
	var txs []Tx
	if err := json.Unmarshal(ar.Result, &txs); err != nil {
		return nil, fmt.Errorf("explorer: decode result: %w", err)
	}
	return txs, nil
}

// ProxyClient reads transaction lists through charityd.
type ProxyClient struct {
	BaseURL string
	http    *http.Client
}

// NewProxyClient builds a client for a charityd base URL.
func NewProxyClient(baseURL string, hc *http.Client) *ProxyClient {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &ProxyClient{BaseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Transactions calls GET /api/transactions.
func (p *ProxyClient) Transactions(ctx context.Context, network, address string) ([]Tx, error) {
	q := url.Values{}
	q.Set("address", address)
	if network != "" {
		q.Set("network", network)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/transactions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Transactions []Tx   `json:"transactions"`
		Error        string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("proxy: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if body.Error == "" {
			body.Error = resp.Status
		}
		return nil, fmt.Errorf("proxy: %s", body.Error)
	}
	return body.Transactions, nil
}
