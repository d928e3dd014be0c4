package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docfold/docfold/api"
	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/db"
	"github.com/docfold/docfold/dedup"
	dfhttp "github.com/docfold/docfold/http"
	"github.com/docfold/docfold/orchestrator"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/storage"
	"github.com/docfold/docfold/store"
	"github.com/docfold/docfold/webhook"
)

func init() {
	RootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the document intake API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	jobs := store.NewJobStore(gdb)
	rules := store.NewRuleStore(gdb)
	pushLogs := store.NewPushLogStore(gdb)
	audits := store.NewAuditLogStore(gdb)

	fabric, err := queue.NewFabric(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer fabric.Close()

	ctx := context.Background()
	files, err := storage.NewObjectStore(ctx, cfg.S3)
	if err != nil {
		return err
	}
	if err := files.EnsureBucket(ctx); err != nil {
		return err
	}

	index, err := dedup.New(cfg.Redis, jobs)
	if err != nil {
		return err
	}
	defer index.Close()

	orch := orchestrator.New(jobs, rules, index, files, fabric, audits, cfg.Upload)
	dispatcher := webhook.NewDispatcher(cfg.Push, pushLogs, files)

	e := dfhttp.NewEchoServer()
	api.NewServer(orch, jobs, pushLogs, rules, dispatcher, cfg.Service.Name, cfg.Server.APIKey).Register(e)

	errCh := make(chan error, 1)
	go func() {
		if err := dfhttp.StartServer(e, cfg.Server); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		common.Logger.WithField("signal", sig.String()).Info("shutting down")
	}

	return dfhttp.GracefulShutdown(e, cfg.Server.ShutdownTimeout)
}
