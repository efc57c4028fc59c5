// Package control wires configuration into a running monitor service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/vietddude/sweepwatch/internal/core/config"
	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/core/worker"
	"github.com/vietddude/sweepwatch/internal/infra/chain"
	"github.com/vietddude/sweepwatch/internal/infra/chain/bitcoin"
	"github.com/vietddude/sweepwatch/internal/infra/chain/evm"
	"github.com/vietddude/sweepwatch/internal/infra/chain/tron"
	"github.com/vietddude/sweepwatch/internal/infra/httpclient"
	redisclient "github.com/vietddude/sweepwatch/internal/infra/redis"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/provider"
	"github.com/vietddude/sweepwatch/internal/infra/rpc/routing"
	"github.com/vietddude/sweepwatch/internal/infra/signer"
	"github.com/vietddude/sweepwatch/internal/infra/storage"
	"github.com/vietddude/sweepwatch/internal/infra/storage/memory"
	"github.com/vietddude/sweepwatch/internal/infra/storage/postgres"
	"github.com/vietddude/sweepwatch/internal/monitoring/evaluator"
	"github.com/vietddude/sweepwatch/internal/monitoring/health"
	"github.com/vietddude/sweepwatch/internal/monitoring/metrics"
	"github.com/vietddude/sweepwatch/internal/monitoring/monitor"
	"github.com/vietddude/sweepwatch/internal/monitoring/notify"
	"github.com/vietddude/sweepwatch/internal/monitoring/poller"
	"github.com/vietddude/sweepwatch/internal/monitoring/sweeper"
	"github.com/vietddude/sweepwatch/internal/monitoring/valuation"
)

const cycleLockName = "monitor-cycle"

var defaultEVMNative = domain.Asset{Symbol: "ETH", Decimals: 18}

// Service owns the monitor, the reconciler, their schedulers and every
// backing resource.
type Service struct {
	cfg *config.AppConfig
	log *slog.Logger

	registry   *routing.Registry
	adapters   map[domain.ChainFamily]chain.Adapter
	db         *postgres.DB
	redis      *redisclient.Client
	dispatcher *notify.Dispatcher

	monitor    *monitor.Monitor
	reconciler *sweeper.Reconciler
	cycles     *worker.Scheduler
	reconcile  *worker.Scheduler

	healthMon    *health.Monitor
	healthServer *health.Server

	mu       sync.Mutex
	bgCancel context.CancelFunc
}

// New builds a Service. Resources opened here are released by Close.
func New(ctx context.Context, cfg *config.AppConfig) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		log:      slog.Default().With("component", "service"),
		adapters: make(map[domain.ChainFamily]chain.Adapter),
	}
	if err := s.init(ctx); err != nil {
		_ = s.closeResources()
		return nil, err
	}
	return s, nil
}

func (s *Service) init(ctx context.Context) error {
	cfg := s.cfg

	// 1. Endpoints and chain adapters
	s.registry = routing.NewRegistry(routing.Config{
		FailureThreshold: cfg.Monitor.FailureThreshold,
		Cooldown:         cfg.Monitor.Cooldown,
		CallTimeout:      cfg.Monitor.RPCTimeout,
	})

	families := make(map[domain.ChainFamily]poller.Family)
	var (
		evmChainID *big.Int
		btcParams  *chaincfg.Params
	)
	for _, ch := range cfg.Chains {
		family, err := domain.ParseChainFamily(ch.Family)
		if err != nil {
			return err
		}
		for _, ep := range ch.Endpoints {
			p := provider.NewHTTPProvider(ep.Name, ep.URL, cfg.Monitor.RPCTimeout)
			s.registry.AddEndpoint(family, ep.URL, ep.Priority, p)
		}

		client := s.registry.Client(family)
		var adapter chain.Adapter
		switch family {
		case domain.ChainFamilyEVM:
			native := defaultEVMNative
			if ch.Native != nil {
				native = *ch.Native
			}
			evmChainID = big.NewInt(ch.ChainID)
			adapter = evm.NewEVMAdapter(client, evmChainID, native, ch.Confirmations)
		case domain.ChainFamilyUTXO:
			btcParams, err = bitcoin.NetworkParams(ch.Network)
			if err != nil {
				return err
			}
			adapter = bitcoin.NewBitcoinAdapter(client, btcParams, ch.Confirmations, ch.FallbackFeeRate)
		case domain.ChainFamilyTron:
			adapter = tron.NewTronAdapter(client, ch.NativeFeeReserve, ch.TokenFeeLimit)
		}

		s.adapters[family] = adapter
		families[family] = poller.Family{Adapter: adapter, Tokens: ch.Tokens}
		s.log.Info("Chain family configured",
			"family", family,
			"endpoints", len(ch.Endpoints),
			"tokens", len(ch.Tokens),
		)
	}

	// 2. Storage
	var (
		sweeps  storage.SweepRepository
		configs storage.ConfigStore
		wallets storage.WalletSource
	)
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate db: %w", err)
		}
		sweeps = postgres.NewSweepRepo(db)
		configs = postgres.NewConfigRepo(db)
		wallets = postgres.NewWalletRepo(db)
		s.log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		sweeps = memory.NewSweepRepo(store)

		configRepo := memory.NewConfigRepo(store)
		if err := configRepo.Update(ctx, s.seedConfig()); err != nil {
			return err
		}
		configs = configRepo

		walletRepo := memory.NewWalletRepo(store)
		walletRepo.Set(cfg.DomainWallets())
		wallets = walletRepo
		s.log.Info("Using Memory storage", "wallets", len(cfg.Wallets))
	}

	// 3. Redis: price cache, cycle lease, notification dedup
	var marker notify.Marker = notify.NewMemoryMarker()
	var locker monitor.Locker
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
		s.redis = rc
		marker = rc
		locker = rc.CycleLock(cycleLockName, cfg.Monitor.LeaseTTL)
		s.log.Info("Using Redis for price cache and cycle lease")
	}

	// 4. Notifications
	sinks := notify.Multi{notify.NewLogNotifier(slog.Default())}
	for _, url := range cfg.Notify.Webhooks {
		if url == "" {
			continue
		}
		sinks = append(sinks, notify.NewWebhook(url))
	}
	s.dispatcher = notify.NewDispatcher(
		notify.NewDedup(sinks, marker, cfg.Monitor.RenotifyAfter),
		cfg.Notify.Timeout,
	)

	// 5. Valuation
	quoter, err := s.buildQuoter()
	if err != nil {
		return err
	}

	// 6. Signer
	var sgn signer.Signer
	if cfg.Signer.URL != "" {
		sgn = signer.NewRemoteSigner(cfg.Signer.URL, cfg.Signer.Token, httpclient.New())
	} else {
		sgn = signer.NewLocalSigner(signer.NewStaticKeys(cfg.Signer.Keys), evmChainID, btcParams)
	}

	// 7. Monitor, reconciler and their schedulers
	sw := sweeper.New(s.adapters, sgn, sweeps, s.dispatcher)
	s.monitor = monitor.New(monitor.Config{
		Wallets:     wallets,
		Configs:     configs,
		Poller:      poller.New(families, cfg.Monitor.Concurrency),
		Quoter:      quoter,
		Gate:        evaluator.NewGate(sweeps, cfg.Monitor.FailedRetryAfter),
		Sweeper:     sw,
		Events:      s.dispatcher,
		Locker:      locker,
		Concurrency: cfg.Monitor.Concurrency,
	})
	s.reconciler = sweeper.NewReconciler(s.adapters, sweeps, s.dispatcher, sweeper.ReconcilerConfig{
		ConfirmationGrace: cfg.Monitor.ConfirmationGrace,
		DropAfter:         cfg.Monitor.DropAfter,
	})

	s.cycles = worker.NewScheduler("monitor", s.monitor.Run,
		worker.WithSkipHook(metrics.CyclesSkipped.Inc))
	s.reconcile = worker.NewScheduler("reconciler", s.runReconcile)

	// 8. Health
	s.healthMon = health.NewMonitor(s.cycles, s.registry, s.monitor)
	if s.db != nil {
		s.healthMon.AddDependency("postgres", s.db.Health)
	}
	if s.redis != nil {
		s.healthMon.AddDependency("redis", s.redis.Health)
	}
	s.healthServer = health.NewServer(s.healthMon, cfg.Server.Port)

	return nil
}

// seedConfig is the in-memory configuration row.
func (s *Service) seedConfig() domain.MonitorConfig {
	mc := domain.DefaultMonitorConfig()
	for name, addr := range s.cfg.Monitor.Destinations {
		family, err := domain.ParseChainFamily(name)
		if err != nil {
			s.log.Warn("Ignoring destination for unknown family", "family", name)
			continue
		}
		switch family {
		case domain.ChainFamilyEVM:
			mc.EVMDestinationAddress = addr
		case domain.ChainFamilyUTXO:
			mc.BTCDestinationAddress = addr
		case domain.ChainFamilyTron:
			mc.TronDestinationAddress = addr
		}
	}
	return mc
}

// buildQuoter chains the HTTP quoter before the static table and caches the
// result in redis when available.
func (s *Service) buildQuoter() (valuation.Quoter, error) {
	vc := s.cfg.Valuation
	prices, err := vc.Prices()
	if err != nil {
		return nil, err
	}

	var chainQ valuation.Chain
	if len(vc.CoinIDs) > 0 {
		url := vc.URL
		if url == "" {
			url = valuation.DefaultQuoteURL
		}
		chainQ = append(chainQ, valuation.NewHTTPQuoter(url, vc.APIKey, vc.CoinIDs, httpclient.New()))
	}
	if len(prices) > 0 {
		chainQ = append(chainQ, valuation.Static(prices))
	}
	if len(chainQ) == 0 {
		s.log.Warn("No price source configured, every asset will be unpriced")
	}

	if s.redis != nil {
		return valuation.NewCached(chainQ, s.redis, vc.CacheTTL), nil
	}
	return chainQ, nil
}

func (s *Service) runReconcile(ctx context.Context) {
	stats, err := s.reconciler.Reconcile(ctx)
	if err != nil && ctx.Err() == nil {
		s.log.Error("Reconcile failed", "error", err)
		return
	}
	if stats.Checked > 0 {
		s.log.Info("Reconcile finished",
			"checked", stats.Checked,
			"confirmed", stats.Confirmed,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
			"errors", stats.Errors,
		)
	}
}

// Serve starts the health server and background collectors. They run until Close.
func (s *Service) Serve() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}
	go func() {
		if err := s.healthServer.Start(); err != nil {
			s.log.Error("Health server failed", "error", err)
		}
	}()
	s.log.Info("Health server listening", "port", s.cfg.Server.Port)
}

// Start begins periodic cycles. A zero interval uses the configured one and a
// nil thresholdOverride keeps the persisted threshold.
func (s *Service) Start(interval time.Duration, thresholdOverride *decimal.Decimal) error {
	if interval <= 0 {
		interval = s.cfg.Monitor.Interval
	}
	s.monitor.SetThresholdOverride(thresholdOverride)

	if err := s.cycles.Start(interval, s.cfg.Monitor.RunImmediately); err != nil {
		return err
	}
	if err := s.reconcile.Start(s.cfg.Monitor.ReconcileInterval, false); err != nil && !errors.Is(err, worker.ErrAlreadyRunning) {
		_ = s.cycles.Stop(context.Background())
		return err
	}

	attrs := []any{"interval", interval, "reconcile_interval", s.cfg.Monitor.ReconcileInterval}
	if thresholdOverride != nil {
		attrs = append(attrs, "threshold_override", thresholdOverride.String())
	}
	s.log.Info("Monitor started", attrs...)
	return nil
}

// Stop cancels in-flight work and waits for it to return. The service may be
// started again afterwards.
func (s *Service) Stop(ctx context.Context) error {
	err := errors.Join(s.cycles.Stop(ctx), s.reconcile.Stop(ctx))
	s.log.Info("Monitor stopped")
	return err
}

// RunOnce runs a single cycle outside the scheduler.
func (s *Service) RunOnce(ctx context.Context, thresholdOverride *decimal.Decimal) (*domain.CycleResult, error) {
	s.monitor.SetThresholdOverride(thresholdOverride)
	return s.monitor.RunCycle(ctx)
}

// State reports whether cycles are scheduled.
func (s *Service) State() worker.State {
	return s.cycles.State()
}

// Handler exposes the health and metrics routes.
func (s *Service) Handler() http.Handler {
	return s.healthServer.Handler()
}

// Close stops the schedulers, drains notifications and releases every resource.
func (s *Service) Close(ctx context.Context) error {
	err := s.Stop(ctx)

	s.mu.Lock()
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgCancel = nil
		if serr := s.healthServer.Stop(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	s.mu.Unlock()

	if s.dispatcher != nil {
		if derr := s.dispatcher.Close(ctx); derr != nil {
			err = errors.Join(err, derr)
		}
	}
	return errors.Join(err, s.closeResources())
}

func (s *Service) closeResources() error {
	var errs []error
	if s.registry != nil {
		errs = append(errs, s.registry.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
