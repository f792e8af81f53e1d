package main

import (
	"fmt"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/logging"
	"image-processing-flow/internal/service"
	"os"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Run the image processing workflow and activity workers",
	SilenceUsage: true,
	RunE:         runWorker,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", config.DefaultPath, "path to the YAML config file")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ResolvePath(configPath, cmd.Flags().Changed("config")))
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, os.Stderr)

	svc, err := service.New(*cfg, logger)
	if err != nil {
		return fmt.Errorf("unable to create service: %w", err)
	}
	if err := svc.Start(cmd.Context()); err != nil {
		svc.Stop()
		return err
	}

	logger.Info().Str("affinity", string(svc.Token())).Msg("worker running, interrupt to stop")
	<-worker.InterruptCh()
	svc.Stop()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
