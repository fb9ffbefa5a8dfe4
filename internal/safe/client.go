// Package safe talks to a Safe multisig: the Transaction Service HTTP API
// for metadata and proposals, and EIP-712 hashing and signing of SafeTx.
package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNotFound is returned when the service does not know the address.
var ErrNotFound = errors.New("safe: not found")

// Info is the Safe metadata the connector needs.
type Info struct {
	Address   common.Address
	Nonce     uint64
	Threshold int
	Owners    []common.Address
	Version   string
}

// IsOwner reports whether addr is one of the owners.
func (i Info) IsOwner(addr common.Address) bool {
	for _, o := range i.Owners {
		if o == addr {
			return true
		}
	}
	return false
}

// Client is a Safe Transaction Service client.
type Client struct {
	BaseURL string
	http    *http.Client
}

// NewClient builds a client for baseURL, e.g. https://safe-transaction-sepolia.safe.global.
// A nil hc gets a client with a 12s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 12 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// flexUint decodes numbers sent either as JSON numbers or strings.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = flexUint(n)
	return nil
}

type infoResponse struct {
	Address   string   `json:"address"`
	Nonce     flexUint `json:"nonce"`
	Threshold flexUint `json:"threshold"`
	Owners    []string `json:"owners"`
	Version   string   `json:"version"`
}

// Info reads nonce, threshold and owners of a Safe.
func (c *Client) Info(ctx context.Context, addr common.Address) (Info, error) {
	url := fmt.Sprintf("%s/api/v1/safes/%s/", c.BaseURL, addr.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("safe info: %w", err)
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return Info{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("safe info: %s: %s", resp.Status, truncate(string(rb), 200))
	}
	var ir infoResponse
	if err := json.Unmarshal(rb, &ir); err != nil {
		return Info{}, fmt.Errorf("safe info: decode: %w", err)
	}
	out := Info{Address: addr, Nonce: uint64(ir.Nonce), Threshold: int(ir.Threshold), Version: ir.Version}
	for _, o := range ir.Owners {
		if common.IsHexAddress(o) {
			out.Owners = append(out.Owners, common.HexToAddress(o))
		}
	}
	return out, nil
}

// Proposal is a signed SafeTx ready for the service queue.
type Proposal struct {
	Tx         Tx
	SafeTxHash common.Hash
	Sender     common.Address
	Signature  []byte
	Origin     string
}

type proposalBody struct {
	To                      string `json:"to"`
	Value                   string `json:"value"`
	Data                    string `json:"data"`
	Operation               uint8  `json:"operation"`
	SafeTxGas               string `json:"safeTxGas"`
	BaseGas                 string `json:"baseGas"`
	GasPrice                string `json:"gasPrice"`
	GasToken                string `json:"gasToken"`
	RefundReceiver          string `json:"refundReceiver"`
	Nonce                   uint64 `json:"nonce"`
	ContractTransactionHash string `json:"contractTransactionHash"`
	Sender                  string `json:"sender"`
	Signature               string `json:"signature"`
	Origin                  string `json:"origin,omitempty"`
}

// Propose posts a signed transaction to the multisig queue of safeAddr.
func (c *Client) Propose(ctx context.Context, safeAddr common.Address, p Proposal) error {
	tx := p.Tx.normalized()
	body, err := json.Marshal(proposalBody{
		To:                      tx.To.Hex(),
		Value:                   tx.Value.String(),
		Data:                    hexutil.Encode(tx.Data),
		Operation:               uint8(tx.Operation),
		SafeTxGas:               tx.SafeTxGas.String(),
		BaseGas:                 tx.BaseGas.String(),
		GasPrice:                tx.GasPrice.String(),
		GasToken:                tx.GasToken.Hex(),
		RefundReceiver:          tx.RefundReceiver.Hex(),
		Nonce:                   tx.Nonce,
		ContractTransactionHash: p.SafeTxHash.Hex(),
		Sender:                  p.Sender.Hex(),
		Signature:               hexutil.Encode(p.Signature),
		Origin:                  p.Origin,
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/v1/safes/%s/multisig-transactions/", c.BaseURL, safeAddr.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("safe propose: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("safe propose: %s: %s", resp.Status, truncate(string(rb), 300))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…(truncated)"
}
