// Command aegisd runs the governance core: policy engine, provenance
// ledger, contract engine and reflexive core behind one HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/praxis-systems/aegis/pkg/config"
	"github.com/praxis-systems/aegis/pkg/contracts"
	"github.com/praxis-systems/aegis/pkg/httpapi"
	"github.com/praxis-systems/aegis/pkg/ledger"
	"github.com/praxis-systems/aegis/pkg/ledger/anchor"
	"github.com/praxis-systems/aegis/pkg/observability"
	"github.com/praxis-systems/aegis/pkg/policy"
	"github.com/praxis-systems/aegis/pkg/reflexive"
)

func main() {
	if err := run(); err != nil {
		slog.Error("aegisd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Environment = cfg.Environment
		obsCfg.Insecure = cfg.Environment == "development"
		var err error
		obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			return err
		}
		defer obs.Shutdown(context.Background())
	}

	ledgerStore, err := ledger.Open(cfg.LedgerDatabaseURL, ledger.WithBlockSize(cfg.BlockSize))
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	if adapter, err := buildAnchor(ctx, cfg); err != nil {
		return err
	} else if adapter != nil {
		ledgerStore.RegisterSealHandler(func(block *ledger.Block) {
			anchorCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := adapter.SubmitBlock(anchorCtx, block); err != nil {
				logger.Error("block anchoring failed",
					"block_number", block.BlockNumber, "error", err)
			}
		})
		logger.Info("block anchoring enabled", "provider", adapter.Name())
	}

	contractStore, err := contracts.OpenStore(cfg.ContractsDatabaseURL)
	if err != nil {
		return err
	}
	defer contractStore.Close()
	contractEngine := contracts.NewEngine(contractStore,
		contracts.WithLedger(ledgerStore),
		contracts.WithLogger(logger))

	registry := policy.NewRegistry(logger)
	if cfg.PolicyFile != "" {
		if err := registry.LoadYAML(cfg.PolicyFile); err != nil {
			return err
		}
	} else {
		registry.Register(policy.NewRBAC("rbac", "1.0.0", nil, nil, nil))
		registry.Register(policy.NewMinimumNecessary("minimum_necessary", "1.0.0", nil, nil, true))
		registry.Register(policy.NewHIPAA("hipaa", "1.0.0"))
	}
	policyEngine := policy.NewEngine(registry, logger)

	reflexiveEngine := reflexive.NewEngine(
		reflexive.WithLedger(ledgerStore),
		reflexive.WithLogger(logger))
	reflexiveEngine.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reflexiveEngine.Stop(stopCtx); err != nil {
			logger.Error("reflexive engine stop failed", "error", err)
		}
	}()

	server := httpapi.NewServer(policyEngine, contractEngine, ledgerStore, reflexiveEngine,
		httpapi.WithLogger(logger),
		httpapi.WithObservability(obs),
		httpapi.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		httpapi.WithJWTSecret(cfg.JWTSecret),
		httpapi.WithPolicyFile(cfg.PolicyFile))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("aegisd listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if _, err := ledgerStore.SealCurrentBlock(shutdownCtx); err != nil {
		logger.Error("final block seal failed", "error", err)
	}
	return nil
}

// buildAnchor assembles the configured anchor adapters. Both object-store
// anchors configured together fan out through a Multi adapter.
func buildAnchor(ctx context.Context, cfg *config.Config) (anchor.Adapter, error) {
	var adapters []anchor.Adapter
	if cfg.AnchorS3Bucket != "" {
		s3Adapter, err := anchor.NewS3FromConfig(ctx, cfg.AnchorS3Bucket, cfg.AnchorPrefix)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, s3Adapter)
	}
	if cfg.AnchorGCSBucket != "" {
		gcsAdapter, err := anchor.NewGCSFromEnv(ctx, cfg.AnchorGCSBucket, cfg.AnchorPrefix)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gcsAdapter)
	}
	for _, provider := range cfg.AnchorProviders {
		switch provider {
		case "hyperledger":
			adapters = append(adapters, anchor.NewHyperledger("", ""))
		case "omniseal":
			adapters = append(adapters, anchor.NewOmniSeal("", ""))
		default:
			return nil, fmt.Errorf("unknown anchor provider %q", provider)
		}
	}
	switch len(adapters) {
	case 0:
		return nil, nil
	case 1:
		return adapters[0], nil
	default:
		return anchor.NewMulti(adapters...)
	}
}
