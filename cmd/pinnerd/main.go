// Command pinnerd runs the pin-hunting agent: it watches the ledger for pin
// offers, pins accepted content to the local storage node, claims payment,
// and audits claimants it paid to make sure they keep serving the content.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/inviti8/hvym-pinner/internal/audit"
	"github.com/inviti8/hvym-pinner/internal/claim"
	"github.com/inviti8/hvym-pinner/internal/config"
	"github.com/inviti8/hvym-pinner/internal/daemon"
	"github.com/inviti8/hvym-pinner/internal/dispute"
	"github.com/inviti8/hvym-pinner/internal/executor"
	"github.com/inviti8/hvym-pinner/internal/flowctl"
	"github.com/inviti8/hvym-pinner/internal/ledger"
	"github.com/inviti8/hvym-pinner/internal/mode"
	"github.com/inviti8/hvym-pinner/internal/policy"
	"github.com/inviti8/hvym-pinner/internal/store"
	"github.com/inviti8/hvym-pinner/internal/types"
	flowctlpb "github.com/withobsrvr/flowctl/proto"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to open state store", zap.Error(err))
	}
	defer st.Close()

	ledgerClient, err := ledger.NewClient(cfg.RPCURL, cfg.NetworkPassphrase, cfg.ContractID, cfg.SigningSecret, logger)
	if err != nil {
		logger.Fatal("failed to construct ledger client", zap.Error(err))
	}
	self := ledgerClient.Address()

	ingestor := ledger.NewIngestor(ledgerClient, cfg.NetworkPassphrase, cfg.ContractID, logger)
	if seq, ok, err := st.GetCursor(); err != nil {
		logger.Fatal("failed to read persisted cursor", zap.Error(err))
	} else if ok {
		ingestor.RestoreCursor(seq)
	}

	runtimeCfg, err := st.GetRuntimeConfig(types.RuntimeConfig{
		Mode: cfg.Mode, MinPrice: cfg.MinPrice, MaxContentSize: cfg.MaxContentSize,
	})
	if err != nil {
		logger.Fatal("failed to read persisted runtime config", zap.Error(err))
	}

	modeCtrl := mode.New(runtimeCfg.Mode, logger)
	filter := policy.New(ledgerClient, self, runtimeCfg.MinPrice)
	exec := executor.New(cfg.StorageRPCURL, runtimeCfg.MaxContentSize, cfg.FetchRetries, cfg.GatewayFetchTimeout, logger)
	claimer := claim.New(ledgerClient, logger)

	var auditor daemon.Auditor
	var auditOrchestrator *audit.Orchestrator
	if cfg.AuditEnabled {
		probe := audit.NewHTTPNodeProbe(cfg.StorageRPCURL, cfg.CheckTimeout)
		verifier := audit.NewVerifier(probe, cfg.VerificationMethods)
		cache := audit.NewParticipantCache(st, ledgerClient, cfg.ParticipantCacheTTL)
		disputer := dispute.New(ledgerClient, st, logger)
		scheduler := audit.NewScheduler(st, cache, verifier, disputer, audit.SchedulerConfig{
			CycleInterval: cfg.CycleInterval, CheckTimeout: cfg.CheckTimeout,
			MaxConcurrent: cfg.MaxConcurrent, FailureThreshold: cfg.FailureThreshold,
		}, logger)
		auditOrchestrator = audit.New(st, cache, verifier, disputer, scheduler, self, cfg.CheckTimeout, logger)
		auditor = auditOrchestrator
	}

	orchestrator := daemon.New(st, ingestor, filter, exec, claimer, modeCtrl, auditor, daemon.Config{
		PollInterval: cfg.PollInterval, ErrorBackoff: cfg.ErrorBackoff,
	}, logger)

	var flowctlController *flowctl.Controller
	if cfg.FlowctlEnabled {
		flowctlController = flowctl.New(flowctl.Config{
			Endpoint:          cfg.FlowctlEndpoint,
			HeartbeatInterval: cfg.FlowctlHeartbeatInterval,
			ServiceType:       flowctlpb.ServiceType_SERVICE_TYPE_SOURCE,
			HealthEndpoint:    "http://localhost:8088/health",
		}, func() map[string]float64 {
			metrics := orchestrator.Metrics()
			if auditOrchestrator != nil {
				for k, v := range auditOrchestrator.Metrics() {
					metrics[k] = v
				}
			}
			return metrics
		}, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if auditOrchestrator != nil {
		auditOrchestrator.Start(ctx)
	}
	if flowctlController != nil {
		flowctlController.Start(ctx)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		orchestrator.Run(ctx)
	}()

	<-ctx.Done()
	orchestrator.Stop()
	<-done
	if auditOrchestrator != nil {
		auditOrchestrator.Stop()
	}
	if flowctlController != nil {
		flowctlController.Stop()
	}

	logger.Info("shutdown complete")
}
