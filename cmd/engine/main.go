// Command engine is the process that hosts the Trigger Manager and the
// per-request Orchestrator: it wires a node registry, the in-memory
// definition loader, the execution store, the event bus, and error/trace
// reporting, then activates any workflows handed to it on the command line
// and blocks until a signal tells it to shut down. Structurally grounded on
// cmd/worker/main.go's logger -> config -> tracing -> db -> services ->
// goroutines -> signal-wait -> graceful-shutdown shape.
package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/weaveflow/weaveflow/internal/config"
	"github.com/weaveflow/weaveflow/internal/credential"
	"github.com/weaveflow/weaveflow/internal/eventbus"
	"github.com/weaveflow/weaveflow/internal/executor"
	"github.com/weaveflow/weaveflow/internal/executor/decision"
	"github.com/weaveflow/weaveflow/internal/executor/jsrun"
	"github.com/weaveflow/weaveflow/internal/humaninteraction"
	"github.com/weaveflow/weaveflow/internal/logging"
	"github.com/weaveflow/weaveflow/internal/metrics"
	"github.com/weaveflow/weaveflow/internal/node"
	"github.com/weaveflow/weaveflow/internal/orchestrator"
	"github.com/weaveflow/weaveflow/internal/persistence"
	"github.com/weaveflow/weaveflow/internal/settings"
	"github.com/weaveflow/weaveflow/internal/telemetry"
	"github.com/weaveflow/weaveflow/internal/tracing"
	"github.com/weaveflow/weaveflow/internal/trigger"
	"github.com/weaveflow/weaveflow/internal/workflowdef"
)

// defaultTenantID is used to scope credential lookups until multi-tenant
// credential storage is in scope; every node in a single-process engine
// resolves credentials under this tenant.
const defaultTenantID = "default"

func main() {
	logger := logging.New("weaveflow-engine")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Server.Env == "production" {
		if err := config.ValidateForProduction(cfg); err != nil {
			logger.Error("configuration unsafe for production", "error", err)
			os.Exit(1)
		}
	}

	tracingCleanup, err := tracing.InitTracing(context.Background(), &tracing.TracingConfig{
		Enabled:          cfg.Observability.TracingEnabled,
		ServiceName:      cfg.Observability.TracingServiceName,
		ExporterEndpoint: cfg.Observability.TracingEndpoint,
		SamplingRate:     cfg.Observability.TracingSampleRate,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer tracingCleanup()

	tracker, err := telemetry.Initialize(cfg.Observability)
	if err != nil {
		logger.Error("failed to initialize error tracking", "error", err)
		os.Exit(1)
	}
	defer func() {
		tracker.Flush(2 * time.Second)
		tracker.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store persistence.ExecutionStore = persistence.NewInMemoryStore()
	var resolver executor.CredentialResolver

	metricsReg := metrics.NewMetrics()

	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Warn("database unreachable, running with in-memory execution store and no credential resolver", "error", err)
	} else {
		defer db.Close()
		store = persistence.NewPostgresStore(db)

		encryption, err := newEncryptionService(ctx, cfg.Credential)
		if err != nil {
			logger.Error("failed to initialize credential encryption", "error", err)
			os.Exit(1)
		}
		injector := credential.NewInjector(credential.NewRepository(db), encryption)
		resolver = credential.NewInjectorResolver(injector, defaultTenantID, "weaveflow-engine")

		dbStats := metrics.NewDBStatsCollector(metricsReg, db.DB, "primary", logger)
		go dbStats.Start(ctx, 30*time.Second)
		defer dbStats.Stop()
	}

	bus := eventbus.New(logger)
	loader := workflowdef.NewStaticLoader()

	registry := node.NewRegistry()
	jsEngine := jsrun.NewEngine(jsrun.DefaultEngineConfig())
	registry.Register(jsrun.NodeType, func() node.Node { return jsrun.New(jsEngine) })
	registry.Register(decision.NodeType, func() node.Node { return decision.New() })

	interactions := humaninteraction.NewStore(humaninteraction.NewInMemoryRepository(), bus, logger)

	global := settings.LoadGlobalExecution()

	orch := orchestrator.New(loader, registry, store, bus, resolver, interactions, global, logger, tracker)

	manager := trigger.New(registry, loader, orch, orch, nil, logger)

	collector := metrics.NewCollector(metricsReg, manager, orch, logger)
	go collector.Start(ctx, 15*time.Second)
	defer collector.Stop()

	for _, workflowID := range os.Args[1:] {
		info, err := manager.ActivateWorkflow(ctx, workflowID)
		if err != nil {
			logger.Error("failed to activate workflow", "workflow_id", workflowID, "error", err)
			continue
		}
		logger.Info("activated workflow", "workflow_id", workflowID, "trigger_count", info.TriggerCount)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down engine...")
	cancel()
	manager.Shutdown(context.Background())
}

// newEncryptionService builds the credential envelope-encryption backend:
// KMS-backed when CREDENTIAL_USE_KMS is set, otherwise a fixed master key
// decoded from CREDENTIAL_MASTER_KEY.
func newEncryptionService(ctx context.Context, cfg config.CredentialConfig) (credential.EncryptionServiceInterface, error) {
	if cfg.UseKMS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMSRegion))
		if err != nil {
			return nil, err
		}
		svc, err := credential.NewKMSEncryptionService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		if err != nil {
			return nil, err
		}
		return credential.NewKMSEncryptionAdapter(svc), nil
	}

	masterKey, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	svc, err := credential.NewSimpleEncryptionService(masterKey)
	if err != nil {
		return nil, err
	}
	return credential.NewSimpleEncryptionAdapter(svc), nil
}
