// Package chain holds the JSON-RPC plumbing shared by the wallet and the
// synchronizer: dialing, EIP-1559 transaction building and receipt polling.
package chain

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Dial connects to an RPC endpoint. HTTP endpoints get a pooled client with
// a request timeout; ws and ipc endpoints go through rpc.DialContext.
func Dial(ctx context.Context, rpcURL string) (*rpc.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("empty RPC URL")
	}
	if !strings.HasPrefix(rpcURL, "http://") && !strings.HasPrefix(rpcURL, "https://") {
		rc, err := rpc.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
		}
		return rc, nil
	}
	transport := &http.Transport{
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}
	rc, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return rc, nil
}

// DialEth is Dial wrapped in an ethclient.
func DialEth(ctx context.Context, rpcURL string) (*ethclient.Client, *rpc.Client, error) {
	rc, err := Dial(ctx, rpcURL)
	if err != nil {
		return nil, nil, err
	}
	return ethclient.NewClient(rc), rc, nil
}
