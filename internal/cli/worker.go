package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/animus-labs/loadrunner/internal/platform/logging"
	platformstore "github.com/animus-labs/loadrunner/internal/platform/objectstore"
	"github.com/animus-labs/loadrunner/internal/storage/objectstore"
	"github.com/animus-labs/loadrunner/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run one load test from RUN_ID and SCENARIO and exit with the engine's code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, logging.FromEnv(os.Stdout))
		},
	}
}

func runWorker(ctx context.Context, logger *slog.Logger) error {
	cfg, err := worker.ConfigFromEnv()
	if err != nil {
		return configError(fmt.Errorf("worker config: %w", err))
	}

	var uploader worker.Uploader
	if cfg.UploadEnabled() {
		uploader = newUploader(cfg)
	}
	w, err := worker.New(cfg, uploader, logger)
	if err != nil {
		return configError(err)
	}

	if code := w.Run(ctx); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// newUploader never fails: a storage setup error is reported through the
// run log once the engine has finished, like any other upload failure.
func newUploader(cfg worker.Config) worker.Uploader {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return worker.UnavailableUploader(fmt.Errorf("object storage config: %w", err))
	}
	storeCfg.Bucket = cfg.Bucket
	storeCfg.Region = cfg.Region
	store, err := objectstore.NewMinioStore(storeCfg)
	if err != nil {
		return worker.UnavailableUploader(fmt.Errorf("object storage client: %w", err))
	}
	return objectstore.NewGateway(store, cfg.Bucket, cfg.Region)
}
