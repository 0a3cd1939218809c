package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

// baseEnv returns the minimal env required for LoadFromEnv to succeed,
// merged with overrides.
func baseEnv(overrides map[string]string) map[string]string {
	kv := map[string]string{
		"BUNDLER_PRIMARY_URL":        "https://bundler.example/rpc",
		"SWAP_ROUTER_ADDRESS":        "0x1111111111111111111111111111111111111111",
		"SWAP_WRAPPED_NATIVE_ADDRESS": "0x2222222222222222222222222222222222222222",
		"SWAP_QUOTE_URL":             "https://quote.example/v1",
	}
	for k, v := range overrides {
		kv[k] = v
	}
	return kv
}

func TestLoadFromEnvDefaults(t *testing.T) {
	withEnv(t, baseEnv(nil))

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, "https://bundler.example/rpc", cfg.Bundler.PrimaryURL)
	require.Equal(t, SignerBackendCDP, cfg.SignerBackend)
	require.Equal(t, 3, cfg.ExecutionConcurrency())
	require.False(t, cfg.Swing.Enabled)
	require.Equal(t, "./keystore", cfg.Signer.KeystoreDir)
	require.NotEmpty(t, cfg.Storage.PrimaryDSN)
	require.Equal(t, cfg.Storage.PrimaryDSN, cfg.Storage.SignalDSN)
	require.Equal(t, ":8090", cfg.HTTP.ListenAddr)
	require.True(t, cfg.Telemetry.Metrics)
	require.Equal(t, "https://quote.example/v1", cfg.Swap.QuoteURL)
	require.Equal(t, 3*60_000_000_000.0, float64(cfg.Swap.Deadline))
}

func TestLoadFromEnvRequiresPrimaryBundlerURL(t *testing.T) {
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvRequiresSwapConfig(t *testing.T) {
	withEnv(t, map[string]string{"BUNDLER_PRIMARY_URL": "https://bundler.example/rpc"})
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvLocalSignerClampsConcurrency(t *testing.T) {
	withEnv(t, baseEnv(map[string]string{"SIGNER_BACKEND": "local"}))
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, 1, cfg.ExecutionConcurrency())
}

func TestLoadFromEnvParsesRateLimitAndSwing(t *testing.T) {
	withEnv(t, baseEnv(map[string]string{
		"BUNDLER_RATE_LIMIT_PER_SEC": "2.5",
		"SWING_ENABLED":              "true",
		"SWING_INTERVAL":             "45s",
	}))
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.Equal(t, 2.5, cfg.Bundler.RateLimitPerSec)
	require.True(t, cfg.Swing.Enabled)
	require.Equal(t, 45_000_000_000.0, float64(cfg.Swing.Interval))
}

func TestLoadFromEnvMergesPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/policy.yaml"
	require.NoError(t, os.WriteFile(path, []byte("allowed_coins:\n  - 0xAbC\nauto_approve_requesters:\n  - autonomy-worker\n"), 0o644))

	withEnv(t, baseEnv(map[string]string{
		"ALLOWED_COIN_ADDRESSES": "0xdef",
		"FLEET_POLICY_FILE":      path,
	}))
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	require.True(t, cfg.Policy.AllowedCoinAddresses["0xabc"])
	require.True(t, cfg.Policy.AllowedCoinAddresses["0xdef"])
	require.True(t, cfg.AutoApprove.AllowedRequesters["autonomy-worker"])
}

func TestLoadFromEnvRejectsMissingPolicyFile(t *testing.T) {
	withEnv(t, baseEnv(map[string]string{"FLEET_POLICY_FILE": "/nonexistent/policy.yaml"}))
	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnvRejectsUnknownSignerBackend(t *testing.T) {
	withEnv(t, baseEnv(map[string]string{"SIGNER_BACKEND": "hosted-v9"}))
	_, err := LoadFromEnv()
	require.Error(t, err)
}
