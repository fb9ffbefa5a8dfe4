package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings keeps all configuration options.
// Keys are read in both lower_case and UPPER_CASE form.
type Settings struct {
	AppEnv   string
	LogLevel string

	Network         string // key into the network table
	RPCURL          string // overrides the network table entry when set
	ChainID         int64  // 0 means "take it from the network table"
	ContractAddress string
	SafeAddress     string
	SafeServiceURL  string
	PrivateKeyHex   string
	NetworksFile    string

	TipGwei      int64
	BasefeeMul   int64
	GasBufferPct int64

	BalanceInterval      time.Duration
	PollInterval         time.Duration
	WatchInterval        time.Duration
	ConfirmTimeout       time.Duration
	SafeHandshakeTimeout time.Duration
	SafeRetryDelay       time.Duration
	SafeRetryAttempts    int
	RPCAttempts          int
	FromBlock            uint64

	// fee report
	FeeBlocks      int
	FeePercentiles []int

	// proxy
	Port               string
	EtherscanAPIKey    string
	APIBaseURL         string
	CacheTTL           time.Duration
	RateLimitPerMinute int
	UpstreamTimeout    time.Duration
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" { return v }
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		s := get(keys, "")
		if s == "" { return def }
		if n, err := strconv.Atoi(s); err == nil { return n }
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" { return def }
		if n, err := strconv.ParseInt(s, 10, 64); err == nil { return n }
		return def
	}
	getInts := func(keys []string, def []int) []int {
		s := get(keys, "")
		if s == "" { return def }
		out := []int{}
		for _, p := range strings.Split(s, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && n > 0 && n < 100 { out = append(out, n) }
		}
		if len(out) == 0 { return def }
		return out
	}
	getDuration := func(keys []string, def time.Duration) time.Duration {
		s := get(keys, "")
		if s == "" { return def }
		if d, err := time.ParseDuration(s); err == nil { return d }
		// bare numbers are milliseconds
		if n, err := strconv.ParseInt(s, 10, 64); err == nil { return time.Duration(n) * time.Millisecond }
		return def
	}

	st := Settings{}
	st.AppEnv   = get([]string{"app_env", "APP_ENV"}, "production")
	st.LogLevel = get([]string{"log_level", "LOG_LEVEL"}, "info")

	st.Network         = strings.ToLower(get([]string{"network", "NETWORK"}, "sepolia"))
	st.RPCURL          = get([]string{"rpc_url", "RPC_URL"}, "")
	st.ChainID         = getInt64([]string{"chain_id", "CHAIN_ID"}, 0)
	st.ContractAddress = get([]string{"contract_address", "CONTRACT_ADDRESS"}, "")
	st.SafeAddress     = get([]string{"safe_address", "SAFE_ADDRESS"}, "")
	st.SafeServiceURL  = get([]string{"safe_service_url", "SAFE_SERVICE_URL"}, "")
	st.PrivateKeyHex   = get([]string{"private_key", "PRIVATE_KEY"}, "")
	st.NetworksFile    = get([]string{"networks_file", "NETWORKS_FILE"}, "")

	st.TipGwei      = getInt64([]string{"tip_gwei", "TIP_GWEI"}, 2)
	st.BasefeeMul   = getInt64([]string{"basefee_mul", "BASE_MUL"}, 2)
	st.GasBufferPct = getInt64([]string{"gas_buffer_pct", "GAS_BUFFER_PCT"}, 20)

	st.BalanceInterval      = getDuration([]string{"balance_interval", "BALANCE_INTERVAL"}, 3*time.Second)
	st.PollInterval         = getDuration([]string{"poll_interval", "POLL_INTERVAL"}, 4*time.Second)
	st.WatchInterval        = getDuration([]string{"watch_interval", "WATCH_INTERVAL"}, 5*time.Second)
	st.ConfirmTimeout       = getDuration([]string{"confirm_timeout", "CONFIRM_TIMEOUT"}, 3*time.Minute)
	st.SafeHandshakeTimeout = getDuration([]string{"safe_handshake_timeout", "SAFE_HANDSHAKE_TIMEOUT"}, 10*time.Second)
	st.SafeRetryDelay       = getDuration([]string{"safe_retry_delay", "SAFE_RETRY_DELAY"}, 2*time.Second)
	st.SafeRetryAttempts    = getInt([]string{"safe_retry_attempts", "SAFE_RETRY_ATTEMPTS"}, 2)
	st.RPCAttempts          = getInt([]string{"rpc_attempts", "RPC_ATTEMPTS"}, 3)
	st.FromBlock            = uint64(getInt64([]string{"from_block", "FROM_BLOCK"}, 0))

	st.FeeBlocks      = getInt([]string{"netcheck_blocks", "NETCHECK_BLOCKS"}, 100)
	st.FeePercentiles = getInts([]string{"netcheck_pcts", "NETCHECK_PCTS"}, []int{50, 95, 99})

	st.Port               = get([]string{"port", "PORT"}, "4000")
	st.EtherscanAPIKey    = get([]string{"etherscan_api_key", "ETHERSCAN_API_KEY"}, "")
	st.APIBaseURL         = get([]string{"api_base_url", "API_BASE_URL"}, "http://localhost:4000")
	st.CacheTTL           = getDuration([]string{"cache_ttl", "CACHE_TTL"}, 15*time.Second)
	st.RateLimitPerMinute = getInt([]string{"rate_limit_per_minute", "RATE_LIMIT_PER_MINUTE"}, 60)
	st.UpstreamTimeout    = getDuration([]string{"upstream_timeout", "UPSTREAM_TIMEOUT"}, 12*time.Second)

	return st
}

// IsDevelopment reports whether console logging should be used.
func (s Settings) IsDevelopment() bool {
	return s.AppEnv == "development" || s.AppEnv == "dev" || s.AppEnv == "local"
}
