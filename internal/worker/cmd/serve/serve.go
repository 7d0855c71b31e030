// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package serve

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/innovationmech/opsflow/internal/worker"
	workerconfig "github.com/innovationmech/opsflow/internal/worker/config"
	cfg "github.com/innovationmech/opsflow/pkg/config"
	"github.com/innovationmech/opsflow/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd returns the serve command.
func NewServeCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the opsflow worker",
		Long: `Start the opsflow worker. It resumes open executions from the history
store and serves the control plane and chat actions over NATS.

Configuration is read from opsflow.yaml in the config directory, then
opsflow.<env>.yaml (OPSFLOW_ENV), then opsflow.override.yaml, then OPSFLOW_*
environment variables.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			logger.InitLogger()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configDir)
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory holding opsflow.yaml")
	return cmd
}

func runServer(ctx context.Context, configDir string) error {
	log := logger.GetLogger()

	options := cfg.DefaultOptions()
	options.Dir = configDir
	manager := cfg.NewManager(options)
	workerCfg, err := workerconfig.Load(manager)
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return err
	}
	if err := logger.SetLevel(workerCfg.Logging.Level); err != nil {
		log.Warn("Invalid log level, keeping current", zap.String("level", workerCfg.Logging.Level), zap.Error(err))
	}

	reloader := cfg.NewHotReloader(manager, 500*time.Millisecond)
	if err := reloader.Start(); err == nil {
		defer func() { _ = reloader.Stop() }()
		go applyReloads(reloader)
	} else {
		log.Debug("hot reloader not started", zap.Error(err))
	}

	srv, err := worker.NewServer(ctx, workerCfg)
	if err != nil {
		log.Error("Failed to create worker", zap.Error(err))
		return err
	}
	if err := srv.Start(ctx); err != nil {
		log.Error("Failed to start worker", zap.Error(err))
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Stop(stopCtx)
		return err
	}

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping worker...")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		log.Error("Error during worker shutdown", zap.Error(err))
		return err
	}
	log.Info("Worker shutdown complete")
	return nil
}

// applyReloads applies logging.level from every reloaded configuration.
// Other keys take effect on restart.
func applyReloads(reloader *cfg.HotReloader) {
	log := logger.GetLogger()
	for change := range reloader.Events() {
		if change.Err != nil {
			log.Warn("config reload error", zap.Error(change.Err))
			continue
		}
		logging, ok := change.Settings["logging"].(map[string]interface{})
		if !ok {
			continue
		}
		level, ok := logging["level"].(string)
		if !ok || level == "" || level == logger.GetLevel() {
			continue
		}
		if err := logger.SetLevel(level); err != nil {
			log.Warn("apply log level failed", zap.Error(err))
			continue
		}
		log.Info("log level updated via hot-reload", zap.String("level", logger.GetLevel()))
	}
}
