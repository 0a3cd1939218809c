// Package config loads the fleet controller's environment-derived
// configuration surface, following the teacher's LoadConfigFromEnv shape:
// typed accessors, getenvDefault helpers, explicit validation errors naming
// the offending key.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetctl/apperrors"
)

// SignerBackend selects how the process talks to its account provider.
// "local" clamps execution concurrency to 1, since a single in-process key
// cannot safely sign concurrent user operations.
type SignerBackend string

const (
	SignerBackendLocal SignerBackend = "local"
	SignerBackendCDP   SignerBackend = "cdp"
)

// PolicyConfig is the environment-backed guardrail snapshot.
type PolicyConfig struct {
	KillSwitch bool

	MaxFundingWei   *big.Int
	MaxTradeWei     *big.Int
	MaxPerWalletWei *big.Int

	MinSlippageBps int
	MaxSlippageBps int

	ClusterCooldownSec int

	RequireWatchlistCoin bool
	RequireWatchlistName string

	AllowedCoinAddresses map[string]bool // nil when unset
}

// AutoApproveConfig is the environment-backed auto-approval snapshot.
type AutoApproveConfig struct {
	Enabled            bool
	AllowedRequesters  map[string]bool
	AllowedOpTypes     map[string]bool
	MaxFundingWei      *big.Int
	MaxTradeWei        *big.Int
}

// AutonomyConfig drives the autonomy tick loop.
type AutonomyConfig struct {
	Enabled     bool
	Interval    time.Duration
	Mode        string
	ClusterIDs  []int64
	AmountWei   *big.Int
	SlippageBps int
}

// BundlerConfig tunes the bundler router.
type BundlerConfig struct {
	PrimaryURL        string
	SecondaryURL      string
	SendTimeout       time.Duration
	HedgeDelay        time.Duration
	ReceiptPollInterval time.Duration
	ReceiptTimeout    time.Duration
	RateLimitPerSec   float64
	EntryPoint        string
	AuditLogPath      string
}

// SwingConfig drives the swing take-profit/stop-loss tick loop.
type SwingConfig struct {
	Enabled  bool
	Interval time.Duration
}

// SwapConfig locates the Universal-Router-style contract and off-chain
// quote endpoint swap.Encoder packs calldata against and prices holdings
// through.
type SwapConfig struct {
	RouterAddress string
	WrappedNative string
	Deadline      time.Duration
	QuoteURL      string
}

// SignerConfig locates the local keystore used when SignerBackend is
// "local".
type SignerConfig struct {
	KeystoreDir string
	Passphrase  string
}

// StorageConfig names the databases the process opens at boot.
type StorageConfig struct {
	PrimaryDSN string
	SignalDSN  string
}

// HTTPConfig configures the process's own health/status listener.
type HTTPConfig struct {
	ListenAddr string
}

// TelemetryConfig configures OpenTelemetry export; observability/otel.Init
// takes this struct directly.
type TelemetryConfig struct {
	ServiceName string
	Environment string
	Endpoint    string
	Insecure    bool
	Headers     string
	Metrics     bool
	Traces      bool
}

// Config is the fully parsed environment surface for one process.
type Config struct {
	Policy        PolicyConfig
	AutoApprove   AutoApproveConfig
	Autonomy      AutonomyConfig
	Swing         SwingConfig
	Swap          SwapConfig
	Bundler       BundlerConfig
	Signer        SignerConfig
	Storage       StorageConfig
	HTTP          HTTPConfig
	Telemetry     TelemetryConfig
	SignerBackend SignerBackend
	PolicyFile    string
}

// policyOverridesFile is the on-disk shape of an optional YAML policy
// overrides document, following the teacher's PoliciesPath pattern
// (services/payoutd/config.go): operators hand-maintain a reviewable file of
// additional coin allowlist entries and auto-approve requesters instead of
// cramming long lists into a single env var. Entries here are unioned with
// the corresponding env-derived sets, never replace them.
type policyOverridesFile struct {
	AllowedCoins     []string `yaml:"allowed_coins"`
	AutoApproveUsers []string `yaml:"auto_approve_requesters"`
}

// loadPolicyOverrides reads and merges path into cfg. A missing path is a
// CONFIG_INVALID error; callers only invoke this when FLEET_POLICY_FILE is
// set, so a configured-but-absent file is always a misconfiguration.
func loadPolicyOverrides(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("read FLEET_POLICY_FILE %s: %v", path, err))
	}
	var doc policyOverridesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse FLEET_POLICY_FILE %s: %v", path, err))
	}
	for _, addr := range doc.AllowedCoins {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" {
			continue
		}
		if cfg.Policy.AllowedCoinAddresses == nil {
			cfg.Policy.AllowedCoinAddresses = make(map[string]bool)
		}
		cfg.Policy.AllowedCoinAddresses[addr] = true
	}
	for _, name := range doc.AutoApproveUsers {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if cfg.AutoApprove.AllowedRequesters == nil {
			cfg.AutoApprove.AllowedRequesters = make(map[string]bool)
		}
		cfg.AutoApprove.AllowedRequesters[name] = true
	}
	return nil
}

// ExecutionConcurrency returns the per-wallet fan-out pool size: 1 when the
// signer backend is local (a single in-process key cannot sign
// concurrently), 3 otherwise.
func (c Config) ExecutionConcurrency() int {
	if c.SignerBackend == SignerBackendLocal {
		return 1
	}
	return 3
}

// LoadFromEnv parses the full configuration surface from the process
// environment. It returns a CONFIG_INVALID apperrors.Violation on the first
// malformed value, naming the offending key.
func LoadFromEnv() (Config, error) {
	var cfg Config

	cfg.Policy.KillSwitch = getenvBool("FLEET_KILL_SWITCH", false)

	var err error
	if cfg.Policy.MaxFundingWei, err = getenvBigInt("MAX_FUNDING_WEI", nil); err != nil {
		return Config{}, err
	}
	if cfg.Policy.MaxTradeWei, err = getenvBigInt("MAX_TRADE_WEI", nil); err != nil {
		return Config{}, err
	}
	if cfg.Policy.MaxPerWalletWei, err = getenvBigInt("MAX_PER_WALLET_WEI", nil); err != nil {
		return Config{}, err
	}
	if cfg.Policy.MinSlippageBps, err = getenvInt("MIN_SLIPPAGE_BPS", 1); err != nil {
		return Config{}, err
	}
	if cfg.Policy.MaxSlippageBps, err = getenvInt("MAX_SLIPPAGE_BPS", 500); err != nil {
		return Config{}, err
	}
	if cfg.Policy.ClusterCooldownSec, err = getenvInt("CLUSTER_COOLDOWN_SEC", 0); err != nil {
		return Config{}, err
	}
	cfg.Policy.RequireWatchlistCoin = getenvBool("REQUIRE_WATCHLIST_COIN", false)
	cfg.Policy.RequireWatchlistName = getenvDefault("REQUIRE_WATCHLIST_NAME", "default")
	if raw := strings.TrimSpace(os.Getenv("ALLOWED_COIN_ADDRESSES")); raw != "" {
		cfg.Policy.AllowedCoinAddresses = make(map[string]bool)
		for _, addr := range strings.Split(raw, ",") {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr != "" {
				cfg.Policy.AllowedCoinAddresses[addr] = true
			}
		}
	}

	cfg.AutoApprove.Enabled = getenvBool("AUTO_APPROVE_ENABLED", false)
	cfg.AutoApprove.AllowedRequesters = getenvSet("AUTO_APPROVE_REQUESTERS")
	cfg.AutoApprove.AllowedOpTypes = getenvSet("AUTO_APPROVE_OPERATION_TYPES")
	if cfg.AutoApprove.MaxFundingWei, err = getenvBigInt("AUTO_APPROVE_MAX_FUNDING_WEI", nil); err != nil {
		return Config{}, err
	}
	if cfg.AutoApprove.MaxTradeWei, err = getenvBigInt("AUTO_APPROVE_MAX_TRADE_WEI", nil); err != nil {
		return Config{}, err
	}

	cfg.Autonomy.Enabled = getenvBool("AUTONOMY_ENABLED", false)
	interval, err := getenvDuration("AUTONOMY_INTERVAL", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.Autonomy.Interval = interval
	cfg.Autonomy.Mode = getenvDefault("AUTONOMY_MODE", "top_momentum")
	if cfg.Autonomy.ClusterIDs, err = getenvInt64List("AUTONOMY_CLUSTER_IDS"); err != nil {
		return Config{}, err
	}
	if cfg.Autonomy.AmountWei, err = getenvBigInt("AUTONOMY_AMOUNT_WEI", big.NewInt(0)); err != nil {
		return Config{}, err
	}
	if cfg.Autonomy.SlippageBps, err = getenvInt("AUTONOMY_SLIPPAGE_BPS", 100); err != nil {
		return Config{}, err
	}

	cfg.Bundler.PrimaryURL = os.Getenv("BUNDLER_PRIMARY_URL")
	cfg.Bundler.SecondaryURL = os.Getenv("BUNDLER_SECONDARY_URL")
	if cfg.Bundler.PrimaryURL == "" {
		return Config{}, apperrors.New(apperrors.KindConfigInvalid, "BUNDLER_PRIMARY_URL is required")
	}
	if cfg.Bundler.SendTimeout, err = getenvMillis("BUNDLER_SEND_TIMEOUT_MS", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Bundler.HedgeDelay, err = getenvMillis("BUNDLER_HEDGE_DELAY_MS", 0); err != nil {
		return Config{}, err
	}
	if cfg.Bundler.ReceiptPollInterval, err = getenvMillis("BUNDLER_RECEIPT_POLL_MS", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Bundler.ReceiptTimeout, err = getenvMillis("BUNDLER_RECEIPT_TIMEOUT_MS", 60*time.Second); err != nil {
		return Config{}, err
	}
	rateLimit, err := getenvFloat("BUNDLER_RATE_LIMIT_PER_SEC", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.Bundler.RateLimitPerSec = rateLimit
	cfg.Bundler.EntryPoint = os.Getenv("BUNDLER_ENTRY_POINT")
	cfg.Bundler.AuditLogPath = os.Getenv("BUNDLER_AUDIT_LOG_PATH")

	cfg.Swing.Enabled = getenvBool("SWING_ENABLED", false)
	swingInterval, err := getenvDuration("SWING_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.Swing.Interval = swingInterval

	cfg.Swap.RouterAddress = os.Getenv("SWAP_ROUTER_ADDRESS")
	cfg.Swap.WrappedNative = os.Getenv("SWAP_WRAPPED_NATIVE_ADDRESS")
	cfg.Swap.QuoteURL = os.Getenv("SWAP_QUOTE_URL")
	if cfg.Swap.Deadline, err = getenvDuration("SWAP_DEADLINE", 3*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.Swap.RouterAddress == "" {
		return Config{}, apperrors.New(apperrors.KindConfigInvalid, "SWAP_ROUTER_ADDRESS is required")
	}
	if cfg.Swap.WrappedNative == "" {
		return Config{}, apperrors.New(apperrors.KindConfigInvalid, "SWAP_WRAPPED_NATIVE_ADDRESS is required")
	}
	if cfg.Swap.QuoteURL == "" {
		return Config{}, apperrors.New(apperrors.KindConfigInvalid, "SWAP_QUOTE_URL is required")
	}

	cfg.Signer.KeystoreDir = getenvDefault("SIGNER_KEYSTORE_DIR", "./keystore")
	cfg.Signer.Passphrase = os.Getenv("SIGNER_KEYSTORE_PASSPHRASE")

	cfg.Storage.PrimaryDSN = getenvDefault("FLEETCTL_DB_DSN", "file:fleetctl.db?cache=shared")
	cfg.Storage.SignalDSN = getenvDefault("SIGNAL_DB_DSN", cfg.Storage.PrimaryDSN)

	cfg.HTTP.ListenAddr = getenvDefault("FLEETCTL_HTTP_ADDR", ":8090")

	cfg.Telemetry.ServiceName = getenvDefault("OTEL_SERVICE_NAME", "fleetctl")
	cfg.Telemetry.Environment = getenvDefault("FLEETCTL_ENV", "development")
	cfg.Telemetry.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Telemetry.Insecure = getenvBool("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.Telemetry.Headers = os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")
	cfg.Telemetry.Metrics = getenvBool("OTEL_METRICS_ENABLED", true)
	cfg.Telemetry.Traces = getenvBool("OTEL_TRACES_ENABLED", true)

	switch backend := SignerBackend(getenvDefault("SIGNER_BACKEND", string(SignerBackendCDP))); backend {
	case SignerBackendLocal, SignerBackendCDP:
		cfg.SignerBackend = backend
	default:
		return Config{}, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("unknown SIGNER_BACKEND %q", backend))
	}

	cfg.PolicyFile = os.Getenv("FLEET_POLICY_FILE")
	if cfg.PolicyFile != "" {
		if err := loadPolicyOverrides(&cfg, cfg.PolicyFile); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse %s: %v", key, err))
	}
	return n, nil
}

func getenvInt64List(key string) ([]int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse %s: %v", key, err))
		}
		out = append(out, n)
	}
	return out, nil
}

func getenvBigInt(key string, fallback *big.Int) (*big.Int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse %s: not a base-10 integer", key))
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse %s: %v", key, err))
	}
	return d, nil
}

func getenvMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse %s: %v", key, err))
	}
	return time.Duration(n) * time.Millisecond, nil
}

func getenvFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperrors.New(apperrors.KindConfigInvalid, fmt.Sprintf("parse %s: %v", key, err))
	}
	return f, nil
}

func getenvSet(key string) map[string]bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = true
		}
	}
	return out
}
