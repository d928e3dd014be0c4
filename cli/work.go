package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
	"github.com/docfold/docfold/db"
	"github.com/docfold/docfold/dedup"
	"github.com/docfold/docfold/extract"
	"github.com/docfold/docfold/llm"
	"github.com/docfold/docfold/ocr"
	"github.com/docfold/docfold/queue"
	"github.com/docfold/docfold/sandbox"
	"github.com/docfold/docfold/storage"
	"github.com/docfold/docfold/store"
	"github.com/docfold/docfold/webhook"
	"github.com/docfold/docfold/worker"
)

var (
	ocrWorkers      int
	pipelineWorkers int
	pushWorkers     int
)

func init() {
	RootCmd.AddCommand(workCmd)
	workCmd.Flags().IntVar(&ocrWorkers, "ocr-workers", 2, "concurrent extraction workers")
	workCmd.Flags().IntVar(&pipelineWorkers, "pipeline-workers", 1, "concurrent script workers")
	workCmd.Flags().IntVar(&pushWorkers, "push-workers", 2, "concurrent delivery workers")
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "run the stage workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWork()
	},
}

func runWork() error {
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
	pipelines := store.NewPipelineStore(gdb)
	pushLogs := store.NewPushLogStore(gdb)

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

	index, err := dedup.New(cfg.Redis, jobs)
	if err != nil {
		return err
	}
	defer index.Close()

	ocrEngine, err := ocr.NewEngine(cfg.OCR)
	if err != nil {
		return err
	}
	extractEngine := extract.NewEngine(llm.NewClient(cfg.LLM))
	executor := sandbox.NewExecutor(cfg.Sandbox)
	dispatcher := webhook.NewDispatcher(cfg.Push, pushLogs, files)

	pool := worker.NewPool(fabric,
		map[queue.Stage]int{
			queue.StageOCR:      ocrWorkers,
			queue.StagePipeline: pipelineWorkers,
			queue.StagePush:     pushWorkers,
		},
		worker.NewOCRWorker(jobs, rules, files, ocrEngine, extractEngine, index, fabric, cfg.LLM),
		worker.NewPipelineWorker(jobs, pipelines, executor, fabric),
		worker.NewPushWorker(jobs, rules, pushLogs, dispatcher, fabric),
	)
	if err := pool.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	common.Logger.WithField("signal", sig.String()).Info("stopping workers")

	pool.Stop()
	return nil
}
