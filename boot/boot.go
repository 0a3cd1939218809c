// Package boot assembles one fleetctl process from its environment
// configuration, grounded on the teacher's services/payoutd.Main: load
// config, wire logging and telemetry, construct the storage and policy
// layers, start the long-lived loops, and serve a health endpoint until a
// termination signal arrives.
package boot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"fleetctl/account"
	"fleetctl/apperrors"
	"fleetctl/autonomy"
	"fleetctl/bundler"
	"fleetctl/capability"
	"fleetctl/config"
	"fleetctl/execution"
	"fleetctl/observability"
	"fleetctl/observability/logging"
	"fleetctl/observability/otel"
	"fleetctl/policy"
	"fleetctl/signal"
	"fleetctl/store"
	"fleetctl/swap"
	"fleetctl/swing"
)

// Services is the fully constructed dependency graph for one process. It is
// exported so tests and alternate entrypoints (e.g. a one-shot CLI) can
// build one without going through Run's goroutine/signal-handling shell.
type Services struct {
	Config config.Config
	Logger *slog.Logger

	Store  *store.Store
	Signal *signal.Adapter

	Policy     *policy.Enforcer
	Account    capability.AccountProvider
	Bundler    *bundler.Router
	Swap       capability.SwapEncoder
	Execution  *execution.Engine
	Autonomy   *autonomy.Loop
	Swing      *swing.Loop
}

// Build constructs every collaborator from cfg without starting any
// goroutines. With the local signer backend it fails fast on a master-wallet
// KEY_MISMATCH (other backends skip this check): the address
// recovered from the configured signer key must match the wallet the store
// already has on record as the master wallet, the same boot-time integrity
// check payoutd's Main performs on its hot wallet.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, cfg.Storage.PrimaryDSN)
	if err != nil {
		return nil, fmt.Errorf("boot: open store: %w", err)
	}

	signals, err := signal.Open(ctx, cfg.Storage.SignalDSN)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("boot: open signal adapter: %w", err)
	}

	policyCfg := policy.Config{
		KillSwitch:           cfg.Policy.KillSwitch,
		MaxFundingWei:        cfg.Policy.MaxFundingWei,
		MaxTradeWei:          cfg.Policy.MaxTradeWei,
		MaxPerWalletWei:      cfg.Policy.MaxPerWalletWei,
		MinSlippageBps:       cfg.Policy.MinSlippageBps,
		MaxSlippageBps:       cfg.Policy.MaxSlippageBps,
		ClusterCooldownSec:   cfg.Policy.ClusterCooldownSec,
		RequireWatchlistCoin: cfg.Policy.RequireWatchlistCoin,
		RequireWatchlistName: cfg.Policy.RequireWatchlistName,
		AllowedCoinAddresses: cfg.Policy.AllowedCoinAddresses,
	}
	enforcer := policy.New(policyCfg, st, signals)

	primaryAdapter := bundler.Adapter(bundler.NewHTTPAdapter("primary", cfg.Bundler.PrimaryURL, cfg.Bundler.EntryPoint, nil))
	if cfg.Bundler.RateLimitPerSec > 0 {
		primaryAdapter = bundler.NewRateLimitedAdapter(primaryAdapter, rate.NewLimiter(rate.Limit(cfg.Bundler.RateLimitPerSec), 1))
	}
	routerOpts := []bundler.Option{
		bundler.WithSendTimeout(cfg.Bundler.SendTimeout),
		bundler.WithHedgeDelay(cfg.Bundler.HedgeDelay),
		bundler.WithReceiptPolling(cfg.Bundler.ReceiptPollInterval, cfg.Bundler.ReceiptTimeout),
		bundler.WithMetrics(observability.Bundler()),
	}
	if cfg.Bundler.SecondaryURL != "" {
		secondaryAdapter := bundler.Adapter(bundler.NewHTTPAdapter("secondary", cfg.Bundler.SecondaryURL, cfg.Bundler.EntryPoint, nil))
		if cfg.Bundler.RateLimitPerSec > 0 {
			secondaryAdapter = bundler.NewRateLimitedAdapter(secondaryAdapter, rate.NewLimiter(rate.Limit(cfg.Bundler.RateLimitPerSec), 1))
		}
		routerOpts = append(routerOpts, bundler.WithSecondary(secondaryAdapter))
	}
	if cfg.Bundler.AuditLogPath != "" {
		f, err := openAuditLog(cfg.Bundler.AuditLogPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("boot: open audit log: %w", err)
		}
		routerOpts = append(routerOpts, bundler.WithAuditSink(bundler.NewFileAuditSink(f)))
	}
	router := bundler.NewRouter(primaryAdapter, routerOpts...)

	var accountProvider capability.AccountProvider
	switch cfg.SignerBackend {
	case config.SignerBackendLocal:
		master, err := st.GetMasterWallet(ctx)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("boot: load master wallet: %w", err)
		}
		keys := account.KeystoreDir{Dir: cfg.Signer.KeystoreDir, Passphrase: cfg.Signer.Passphrase}
		key, err := keys.Key(master.ProviderAccountName)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("boot: load master signer key: %w", err)
		}
		recovered := key.PubKey().Address().Hex()
		if !sameAddress(recovered, master.Address) {
			st.Close()
			return nil, apperrors.New(apperrors.KindKeyMismatch, fmt.Sprintf("configured signer key recovers to %s, master wallet is %s", recovered, master.Address))
		}
		accountProvider = account.NewLocalAccountProvider(keys, router)
	default:
		accountProvider = account.NewLocalAccountProvider(account.KeystoreDir{Dir: cfg.Signer.KeystoreDir, Passphrase: cfg.Signer.Passphrase}, router)
	}
	logger.Info("signer configured", "backend", string(cfg.SignerBackend), "keystore_dir", cfg.Signer.KeystoreDir,
		logging.MaskField("passphrase", cfg.Signer.Passphrase))

	swapEncoder := swap.NewEncoder(
		common.HexToAddress(cfg.Swap.RouterAddress),
		common.HexToAddress(cfg.Swap.WrappedNative),
		cfg.Swap.Deadline,
		cfg.Swap.QuoteURL,
		nil,
	)

	engine := execution.New(st, enforcer, accountProvider, swapEncoder, capability.SystemClock{}, execution.Config{
		Concurrency:          cfg.ExecutionConcurrency(),
		StaggerDelay:         100 * time.Millisecond,
		MomentumJiggleFactor: 0.15,
	}, execution.WithMetrics(observability.Execution()))

	autonomyLoop := autonomy.New(cfg.Autonomy, cfg.AutoApprove, enforcer, signals, st, engine, logger)
	swingLoop := swing.New(cfg.Swing.Interval, enforcer, st, swapEncoder, engine, capability.SystemClock{}, logger)

	return &Services{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Signal:    signals,
		Policy:    enforcer,
		Account:   accountProvider,
		Bundler:   router,
		Swap:      swapEncoder,
		Execution: engine,
		Autonomy:  autonomyLoop,
		Swing:     swingLoop,
	}, nil
}

// Run builds the full dependency graph, starts the autonomy and swing loops
// and a health listener, and blocks until ctx is cancelled, then shuts every
// component down in reverse order.
func Run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("boot: load config: %w", err)
	}
	logger := logging.Setup(cfg.Telemetry)

	shutdownTelemetry, err := otel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("boot: init telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	svc, err := Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Store.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := svc.Autonomy.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("autonomy loop exited", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := svc.Swing.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("swing loop exited", "error", err)
		}
	}()

	server := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: NewHealthHandler(svc)}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health listener exited", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	wg.Wait()
	return nil
}

func openAuditLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func sameAddress(a, b string) bool {
	return normalizeAddress(a) == normalizeAddress(b)
}

func normalizeAddress(a string) string {
	if len(a) >= 2 && (a[0:2] == "0x" || a[0:2] == "0X") {
		a = a[2:]
	}
	out := make([]byte, 0, len(a))
	for _, r := range a {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}
