package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworks []byte

// Network describes one chain the fund may live on.
type Network struct {
	Key         string `yaml:"-"`
	Name        string `yaml:"name"`
	ChainID     int64  `yaml:"chainId"`
	RPCURL      string `yaml:"rpc"`
	Explorer    string `yaml:"explorer"`
	ExplorerAPI string `yaml:"explorerApi"`
	SafeService string `yaml:"safeService"`
	Currency    string `yaml:"currency"`
}

// Networks is the network table keyed by short name (sepolia, mainnet, ...).
type Networks map[string]Network

// LoadNetworks parses the embedded table, or path when it is non-empty.
func LoadNetworks(path string) (Networks, error) {
	raw := defaultNetworks
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading networks file: %w", err)
		}
		raw = b
	}
	return ParseNetworks(raw)
}

// ParseNetworks decodes a YAML network table.
func ParseNetworks(raw []byte) (Networks, error) {
	var nets Networks
	if err := yaml.Unmarshal(raw, &nets); err != nil {
		return nil, fmt.Errorf("parsing networks: %w", err)
	}
	for k, n := range nets {
		if n.ChainID <= 0 {
			return nil, fmt.Errorf("network %q: chainId must be positive", k)
		}
		n.Key = strings.ToLower(k)
		if n.Name == "" {
			n.Name = k
		}
		nets[k] = n
	}
	return nets, nil
}

// Lookup finds a network by key, case-insensitively.
func (n Networks) Lookup(key string) (Network, bool) {
	net, ok := n[strings.ToLower(strings.TrimSpace(key))]
	return net, ok
}

// ByChainID finds the network with the given chain id.
func (n Networks) ByChainID(id int64) (Network, bool) {
	for _, net := range n {
		if net.ChainID == id {
			return net, true
		}
	}
	return Network{}, false
}

// Keys returns the sorted network keys.
func (n Networks) Keys() []string {
	out := make([]string, 0, len(n))
	for k := range n {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the target network from settings. Explicit RPC_URL,
// CHAIN_ID and SAFE_SERVICE_URL win over table values.
func (s Settings) Resolve(nets Networks) (Network, error) {
	net, ok := nets.Lookup(s.Network)
	if !ok {
		if s.RPCURL == "" || s.ChainID == 0 {
			return Network{}, fmt.Errorf("unknown network %q (known: %s)", s.Network, strings.Join(nets.Keys(), ", "))
		}
		net = Network{Key: s.Network, Name: s.Network}
	}
	if s.RPCURL != "" {
		net.RPCURL = s.RPCURL
	}
	if s.ChainID != 0 {
		net.ChainID = s.ChainID
	}
	if s.SafeServiceURL != "" {
		net.SafeService = s.SafeServiceURL
	}
	return net, nil
}
