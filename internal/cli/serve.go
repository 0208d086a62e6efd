package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/loadrunner/internal/api"
	"github.com/animus-labs/loadrunner/internal/catalog"
	"github.com/animus-labs/loadrunner/internal/coordinator"
	"github.com/animus-labs/loadrunner/internal/dispatch"
	"github.com/animus-labs/loadrunner/internal/ledger"
	"github.com/animus-labs/loadrunner/internal/platform/env"
	"github.com/animus-labs/loadrunner/internal/platform/httpserver"
	"github.com/animus-labs/loadrunner/internal/platform/k8s"
	"github.com/animus-labs/loadrunner/internal/platform/logging"
	platformstore "github.com/animus-labs/loadrunner/internal/platform/objectstore"
	"github.com/animus-labs/loadrunner/internal/storage/objectstore"
)

const serviceName = "loadrunner"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, logging.FromEnv(os.Stdout))
		},
	}
}

func serve(ctx context.Context, logger *slog.Logger) error {
	addr := env.String("HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return configError(err)
	}
	coordCfg, err := coordinator.ConfigFromEnv()
	if err != nil {
		return configError(fmt.Errorf("coordinator config: %w", err))
	}
	dispatchCfg, err := dispatch.ConfigFromEnv()
	if err != nil {
		return configError(fmt.Errorf("dispatch config: %w", err))
	}
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return configError(fmt.Errorf("object storage config: %w", err))
	}
	ledgerCfg, err := ledger.ConfigFromEnv()
	if err != nil {
		return configError(fmt.Errorf("ledger config: %w", err))
	}

	executor, err := newExecutor(coordCfg)
	if err != nil {
		return configError(err)
	}
	dispatcher, err := dispatch.New(executor, dispatchCfg, logger)
	if err != nil {
		return configError(err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warn("dispatcher close", "error", err)
		}
	}()

	var checks []httpserver.ReadinessCheck
	deps := coordinator.Deps{
		Dispatcher: dispatcher,
		Inspector:  executor,
		Catalog:    catalog.New(coordCfg.ScenariosPath),
		Logger:     logger,
	}

	if storeCfg.Enabled() {
		client, err := platformstore.NewMinIOClient(storeCfg)
		if err != nil {
			return runtimeError(fmt.Errorf("object storage client: %w", err))
		}
		store, err := objectstore.NewMinioStoreWithClient(client)
		if err != nil {
			return runtimeError(err)
		}
		deps.Reports = objectstore.NewGateway(store, storeCfg.Bucket, storeCfg.Region)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "object_storage",
			Check: func(ctx context.Context) error {
				return platformstore.CheckBucket(ctx, client, storeCfg.Bucket)
			},
		})
	}

	runLedger, err := ledger.Open(ctx, ledgerCfg)
	if err != nil {
		return runtimeError(err)
	}
	if runLedger != nil {
		defer func() { _ = runLedger.Close() }()
		deps.Ledger = runLedger
		checks = append(checks, httpserver.ReadinessCheck{Name: "ledger", Check: runLedger.Ping})
	}

	svc, err := coordinator.New(coordCfg, deps)
	if err != nil {
		return runtimeError(err)
	}
	defer svc.Wait()

	server := api.NewServer(svc, logger, api.Options{
		Service:        serviceName,
		Checks:         checks,
		AllowedOrigins: env.List("CORS_ALLOWED_ORIGINS", nil),
	})

	logger.Info("coordinator starting",
		"executor", executor.Kind(),
		"results_path", coordCfg.ResultsPath,
		"bucket", coordCfg.Bucket,
		"ledger", ledgerCfg.Driver,
	)
	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, server.Handler()); err != nil {
		return runtimeError(fmt.Errorf("http server: %w", err))
	}
	return nil
}

func newExecutor(coordCfg coordinator.Config) (dispatch.Executor, error) {
	switch kind := strings.ToLower(strings.TrimSpace(env.String("EXECUTOR", "kubernetes"))); kind {
	case "kubernetes", "k8s":
		k8sCfg, err := dispatch.KubernetesConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("kubernetes config: %w", err)
		}
		client, err := newKubernetesClient()
		if err != nil {
			return nil, err
		}
		return dispatch.NewKubernetesExecutor(client, client.Namespace(), k8sCfg)
	case "local":
		return dispatch.NewLocalExecutor(
			env.String("LOCAL_WORKER_BIN", ""),
			env.List("LOCAL_WORKER_ARGS", nil),
			coordCfg.ScenariosPath,
			os.Stderr,
		)
	default:
		return nil, fmt.Errorf("unsupported EXECUTOR %q", kind)
	}
}

// newKubernetesClient uses K8S_API_URL when set and the in-cluster service
// account otherwise.
func newKubernetesClient() (*k8s.Client, error) {
	if url := strings.TrimSpace(env.String("K8S_API_URL", "")); url != "" {
		return k8s.NewClient(url, env.String("K8S_TOKEN", ""), env.String("K8S_NAMESPACE", ""), nil)
	}
	client, err := k8s.NewInClusterClient()
	if err != nil {
		return nil, fmt.Errorf("kubernetes client: %w", err)
	}
	return client, nil
}
