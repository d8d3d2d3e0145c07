package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"tc.com/omni-oracle/pkg/config"
	"tc.com/omni-oracle/pkg/logging"
	"tc.com/omni-oracle/pkg/metrics"
	"tc.com/omni-oracle/pkg/oracle"
	"tc.com/omni-oracle/pkg/oracle/aggregator"
	"tc.com/omni-oracle/pkg/oracle/feed"
	"tc.com/omni-oracle/pkg/oracle/peers"
	"tc.com/omni-oracle/pkg/oracle/twap"
	"tc.com/omni-oracle/pkg/server/api"
	"tc.com/omni-oracle/pkg/version"
)

var (
	configFile   = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer      = flag.Bool("version", false, "Show version and exit")
	producerOnly = flag.Bool("producer", false, "Run in producer mode regardless of config")
	consumerOnly = flag.Bool("consumer", false, "Run in consumer mode regardless of config")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("omni-oracle version %s\n", version.Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override mode based on flags
	if *producerOnly {
		cfg.Mode = config.ModeProducer
	} else if *consumerOnly {
		cfg.Mode = config.ModeConsumer
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting omni-oracle", "version", version.Version, "mode", cfg.Mode, "chain_id", cfg.Chain.ChainID)

	// Initialize metrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- run(ctx, cfg, logger)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.Error("Component failed", "error", err)
			cancel()
		}
	}

	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	// Producer mode talks to the local chain; consumers only ingest peer
	// prices and can run without an RPC endpoint.
	var ethClient *ethclient.Client
	if cfg.Chain.RPCURL != "" {
		dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
		client, err := ethclient.DialContext(dialCtx, cfg.Chain.RPCURL)
		dialCancel()
		if err != nil {
			return fmt.Errorf("failed to connect to chain RPC: %w", err)
		}
		ethClient = client
		defer ethClient.Close()
		logger.Info("Connected to chain RPC", "url", cfg.Chain.RPCURL)
	}

	// Initialize feed adapters
	var adapters []feed.Adapter
	for _, fc := range cfg.Feeds {
		if !fc.Enabled {
			continue
		}

		src := feed.Source{
			Name:         fc.Name,
			Kind:         feed.Kind(fc.Kind),
			Weight:       uint8(fc.Weight),
			MaxStaleness: fc.MaxStaleness.ToDuration(),
			Active:       true,
			Extra:        fc.Extra,
		}

		adapter, err := feed.Create(src, fc.Address, ethClient, logger)
		if err != nil {
			logger.Warn("Failed to create feed adapter", "kind", fc.Kind, "name", fc.Name, "error", err)
			continue
		}

		adapters = append(adapters, adapter)
		logger.Info("Feed adapter ready", "kind", fc.Kind, "name", fc.Name, "weight", fc.Weight)
	}

	if cfg.IsProducerMode() && len(adapters) == 0 {
		return fmt.Errorf("no feed adapters available")
	}

	// Ratio estimator over the configured liquidity pools
	var est *twap.Estimator
	if len(cfg.Pools) > 0 {
		est = twap.NewEstimator(cfg.Twap.Enabled, cfg.Twap.Period.ToDuration(), logger)
		for _, pc := range cfg.Pools {
			pool, err := twap.NewEVMPool(common.HexToAddress(pc.Address), ethClient)
			if err != nil {
				return fmt.Errorf("failed to create pool %s: %w", pc.Name, err)
			}
			err = est.AddPool(pool, twap.PoolConfig{
				Name:           pc.Name,
				NativeToken:    common.HexToAddress(pc.NativeToken),
				AssetDecimals:  pc.AssetDecimals,
				NativeDecimals: pc.NativeDecimals,
			})
			if err != nil {
				return fmt.Errorf("failed to register pool %s: %w", pc.Name, err)
			}
		}
		est.Init(ctx)
		logger.Info("Ratio estimator ready", "pools", len(cfg.Pools), "twap", cfg.Twap.Enabled)
	}

	// Peer synchronization. The loopback bus serves in-process partitions;
	// the node is bound after the instance exists.
	bus := peers.NewLoopback(logger)
	transport := bus.Attach(cfg.Chain.ChainID, nil)
	peerMgr := peers.NewManager(
		transport,
		cfg.Peers.ReadChannel,
		cfg.Peers.Freshness.ToDuration(),
		cfg.Peers.RequestExpiry.ToDuration(),
		logger,
	)
	registry := peers.NewStaticRegistry()
	for _, ep := range cfg.Peers.Endpoints {
		registry.Add(ep.ChainID, common.HexToAddress(ep.Address), cfg.Peers.ReadChannel)
	}
	for _, ep := range cfg.Peers.Endpoints {
		if ref, ok := registry.EndpointFor(ep.ChainID); ok {
			peerMgr.SetPeer(ep.ChainID, ref, true)
		}
	}

	var breaker *oracle.Breaker
	if cfg.Oracle.Breaker.Enabled {
		breaker = oracle.NewBreaker(cfg.Oracle.Breaker.ThresholdBps, cfg.Oracle.Breaker.GracePeriod.ToDuration())
	}

	agg := aggregator.NewWeighted(cfg.Oracle.MinValidSources, cfg.Oracle.FallbackMaxAge.ToDuration(), logger)

	inst := oracle.New(oracle.Config{
		QueryMaxAge:   cfg.Oracle.FallbackMaxAge.ToDuration(),
		PeerFreshness: cfg.Peers.Freshness.ToDuration(),
		AgreementBps:  cfg.Peers.AgreementBps,
	}, adapters, agg, est, peerMgr, breaker, logger)
	bus.Attach(cfg.Chain.ChainID, inst)

	mode := oracle.ModeConsumer
	if cfg.IsProducerMode() {
		mode = oracle.ModeProducer
	}
	if err := inst.SetMode(mode); err != nil {
		return fmt.Errorf("failed to set oracle mode: %w", err)
	}

	// Query surface
	feedSources := make([]feed.Source, 0, len(adapters))
	for _, adapter := range adapters {
		feedSources = append(feedSources, adapter.Source())
	}
	server := api.NewServer(cfg.Server.HTTP.Addr, inst, feedSources, logger)

	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(cfg.Server.WebSocket.Addr, logger)
		server.SetWebSocketServer(wsServer)
		inst.Subscribe(wsServer.Push)

		go func() {
			if err := wsServer.Start(); err != nil {
				logger.Error("WebSocket server error", "error", err)
			}
		}()
	}

	// Producer update loop
	if cfg.IsProducerMode() {
		go runProducerLoop(ctx, cfg, inst, logger)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if wsServer != nil {
			wsServer.Stop()
		}
	}()

	return server.Start()
}

// runProducerLoop drives the aggregation pipeline at the configured cadence
// until the context is canceled. Cycle failures are logged and retried on the
// next tick; a tripped breaker stays tripped until operator reset.
func runProducerLoop(ctx context.Context, cfg *config.Config, inst *oracle.Oracle, logger *logging.Logger) {
	interval := cfg.Oracle.UpdateInterval.ToDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run one cycle immediately so the instance has a price before the
	// first tick.
	runUpdate(ctx, inst, logger)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runUpdate(ctx, inst, logger)
		}
	}
}

func runUpdate(ctx context.Context, inst *oracle.Oracle, logger *logging.Logger) {
	cycleCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := inst.Update(cycleCtx)
	if err != nil {
		logger.Warn("Update cycle failed", "error", err)
		return
	}

	logger.Debug("Update cycle complete",
		"price", result.Price.String(),
		"timestamp", result.Timestamp.Unix(),
		"degraded", result.Degraded)
}
