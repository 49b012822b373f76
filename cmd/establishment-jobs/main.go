// establishment-jobs runs one maintenance job and exits. Meant for
// scheduled scripts when the service runs without its in-process cron.
//
//	establishment-jobs list
//	establishment-jobs run mark-establishments-as-searchable
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/betagouv/l-immersion-facile-sub002/internal/app"
	"github.com/betagouv/l-immersion-facile-sub002/internal/config"
	"github.com/betagouv/l-immersion-facile-sub002/internal/logging"
	"github.com/betagouv/l-immersion-facile-sub002/internal/scheduler"
)

const serviceName = "establishment-jobs"

func main() {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Run the establishment maintenance jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(listCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", serviceName, err)
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withScheduler(cmd.Context(), func(_ context.Context, s *scheduler.Scheduler, _ *zap.Logger) error {
				for _, name := range s.Names() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job synchronously",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withScheduler(ctx, func(ctx context.Context, s *scheduler.Scheduler, logger *zap.Logger) error {
				logger.Info("job started", zap.String("job", args[0]))
				if err := s.Run(ctx, args[0]); err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				logger.Info("job complete", zap.String("job", args[0]))
				return nil
			})
		},
	}
}

func withScheduler(ctx context.Context, fn func(context.Context, *scheduler.Scheduler, *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, scheduler.New(logger, a.Jobs()...), logger)
}
