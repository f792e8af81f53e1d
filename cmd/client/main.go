package main

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/intake"
	"image-processing-flow/internal/logging"
	"image-processing-flow/internal/objectstore"
	"image-processing-flow/internal/pipeline"
	"image-processing-flow/internal/starter"
	"os"
	"os/signal"
	"syscall"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "client",
	Short:        "Start image processing pipeline runs",
	SilenceUsage: true,
}

type startFlags struct {
	source    string
	bucket    string
	key       string
	dest      string
	transform string
	wait      bool
}

var flags startFlags

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start one pipeline run",
	Example: `  client start --source s3://images/raw/cat.jpg --transform sepia --dest processed --wait
  client start --bucket images --key raw/cat.jpg`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Start a pipeline run for every request on the Kafka topic",
	Args:  cobra.NoArgs,
	RunE:  runConsume,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the YAML config file")

	startCmd.Flags().StringVar(&flags.source, "source", "", "source object as s3://bucket/key")
	startCmd.Flags().StringVar(&flags.bucket, "bucket", "", "source bucket (ignored with --source)")
	startCmd.Flags().StringVar(&flags.key, "key", "", "source key (ignored with --source)")
	startCmd.Flags().StringVar(&flags.dest, "dest", "", "destination bucket; omit to skip the upload")
	startCmd.Flags().StringVar(&flags.transform, "transform", "", "GRAYSCALE or SEPIA")
	startCmd.Flags().BoolVar(&flags.wait, "wait", false, "wait for the run to finish and print its outcome")

	rootCmd.AddCommand(startCmd, consumeCmd)
}

// buildRequest merges flags over configured defaults. The transform is
// passed through as given; the workflow rejects unsupported kinds.
func buildRequest(f startFlags, defaults config.Defaults) (pipeline.Request, error) {
	req := pipeline.Request{
		SourceBucket: defaults.SourceBucket,
		SourceKey:    f.key,
		DestBucket:   defaults.DestBucket,
		Transform:    pipeline.TransformKind(defaults.Transform),
	}
	if f.bucket != "" {
		req.SourceBucket = f.bucket
	}
	if f.source != "" {
		bucket, key, err := objectstore.ParseS3Uri(f.source)
		if err != nil {
			return pipeline.Request{}, err
		}
		req.SourceBucket, req.SourceKey = bucket, key
	}
	if f.dest != "" {
		req.DestBucket = f.dest
	}
	if f.transform != "" {
		req.Transform = pipeline.TransformKind(f.transform)
	}
	return req, req.Validate()
}

func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, client.Client, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ResolvePath(configPath, cmd.Flags().Changed("config")))
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.New(cfg.Log, os.Stderr)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("unable to create client: %w", err)
	}
	return cfg, logger, c, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, logger, c, err := setup(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	req, err := buildRequest(flags, cfg.Defaults)
	if err != nil {
		return err
	}
	s := starter.New(c, cfg.Temporal)

	if !flags.wait {
		run, err := s.Start(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("unable to execute workflow: %w", err)
		}
		logger.Info().Str("workflow_id", run.GetID()).Str("run_id", run.GetRunID()).Msg("pipeline started")
		return nil
	}

	outcome, err := s.Run(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("unable to get workflow result: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return err
	}
	if !outcome.Succeeded {
		return fmt.Errorf("pipeline failed: %s", outcome.Kind)
	}
	return nil
}

func runConsume(cmd *cobra.Command, _ []string) error {
	cfg, logger, c, err := setup(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := intake.NewReader(cfg.Kafka)
	defer reader.Close()

	handler := intake.NewHandler(starter.New(c, cfg.Temporal), cfg.Defaults, logger)
	logger.Info().Str("topic", cfg.Kafka.Topic).Strs("brokers", cfg.Kafka.Brokers).Msg("consuming requests")
	return intake.NewConsumer(reader, handler, logger).Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
