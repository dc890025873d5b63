package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dispatchsync/app"
	"github.com/kilianp07/dispatchsync/config"
	"github.com/kilianp07/dispatchsync/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "dispatchsync",
	Short:         "Live state layer for waste collection dispatch",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dispatch board and mutation API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withService loads the configuration, builds the service and closes it
// once fn returns.
func withService(ctx context.Context, fn func(*app.Service) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return fn(svc)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	return withService(ctx, func(svc *app.Service) error { return svc.Run(ctx) })
}
