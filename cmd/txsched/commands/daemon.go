package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/solagent/txsched/event"
	"github.com/solagent/txsched/executor"
	"github.com/solagent/txsched/logger"
	"github.com/solagent/txsched/schedule"
	"github.com/solagent/txsched/scheduler"
	"github.com/solagent/txsched/tool"
)

// DaemonCmd runs the scheduler in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the transaction scheduler daemon",
	Long: `Run the transaction scheduler in foreground mode.

The daemon polls for due scheduled transactions and executes them
against the registered tools. It runs until interrupted (Ctrl+C) and
finishes the in-progress sweep before exiting.

Trading tools and condition evaluators are registered by the embedding
application; a bare daemon serves the scheduling tools themselves
(schedule_transaction, list_scheduled_transactions,
cancel_scheduled_transaction) and executes whatever the registry
knows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		registry := tool.NewRegistry()
		exec := executor.New(registry, executor.Options{
			Timeout:    cfg.Executor.Timeout(),
			MaxRetries: cfg.Executor.MaxRetries,
			RetryDelay: cfg.Executor.RetryDelay(),
			RateLimit:  rate.Limit(cfg.Executor.RatePerSecond),
			RateBurst:  cfg.Executor.RateBurst,
		}, logger.Logger)

		bus := event.NewBus(logger.Logger)
		defer bus.Close()

		store := schedule.NewStore(database)
		execStore := schedule.NewExecutionStore(database)

		service := scheduler.New(ctx, store, execStore, exec, bus, nil, scheduler.Config{
			PollInterval: cfg.Scheduler.PollInterval(),
		}, logger.Logger)
		scheduler.RegisterTools(registry, service)

		service.Start()

		pterm.Success.Println("txsched daemon started")
		pterm.Printf("  Database: %s\n", cfg.Database.Path)
		pterm.Printf("  Poll interval: %v\n", cfg.Scheduler.PollInterval())
		pterm.Printf("  Tool timeout: %v\n", cfg.Executor.Timeout())
		pterm.Println()
		pterm.Info.Println("Press Ctrl+C for graceful shutdown")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		pterm.Info.Println("\nShutting down gracefully...")
		service.Stop()
		pterm.Success.Println("txsched daemon stopped")
		return nil
	},
}
