package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pixlift/internal/logging"
	"pixlift/internal/observability"
	"pixlift/internal/sink"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := sink.DefaultConfig()
	var observabilityFile string

	cmd := &cobra.Command{
		Use:   "pixlift-sink",
		Short: "🗄  Development upload endpoint for pixlift",
		Long: `pixlift-sink accepts the uploads the pixlift CLI sends, stores them
content-addressed on disk and serves them back under /i/. Accepted
uploads stream to websocket subscribers on /events.

Synthetic failures exercise the client's error handling:

  pixlift-sink --fail-every 3     # every 3rd upload returns a 500
  pixlift-sink --fail-rate 0.2    # 20% of uploads return a 503

Point the CLI at it:

  pixlift config set endpoint http://localhost:8080/upload`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, observabilityFile)
		},
	}

	cmd.Flags().StringVar(&cfg.Host, "host", cfg.Host, "Listen host")
	cmd.Flags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "Listen port")
	cmd.Flags().StringVar(&cfg.Dir, "dir", cfg.Dir, "Storage root for accepted objects")
	cmd.Flags().StringVar(&cfg.PublicURL, "public-url", "", "Base URL for stored objects (default derived from the listen address)")
	cmd.Flags().StringVar(&cfg.AuthToken, "auth-token", "", "Require this bearer token on uploads")
	cmd.Flags().IntVar(&cfg.FailEvery, "fail-every", 0, "Fail every Nth upload with a 500")
	cmd.Flags().Float64Var(&cfg.FailRate, "fail-rate", 0, "Fail uploads with this probability (0..1)")
	cmd.Flags().Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Reject uploads larger than this")
	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Debug logging and gin debug mode")
	cmd.Flags().StringVar(&observabilityFile, "observability-file", "", "Metrics/tracing config file (default ~/.pixlift/observability.yaml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version: %s\n", version)
		},
	})

	return cmd
}

var version = "1.0.0"

func run(cfg *sink.Config, observabilityFile string) error {
	if cfg.FailRate < 0 || cfg.FailRate >= 1 {
		return fmt.Errorf("--fail-rate must be in [0, 1), got %v", cfg.FailRate)
	}

	logger := logging.NewComponentLogger("Sink")
	if cfg.Debug {
		logger.SetLevel(logging.ParseLevel("debug"))
	}

	obsCfg, err := observability.LoadConfig(observabilityFile)
	if err != nil {
		logger.Warn("observability config: %v", err)
		obsCfg = observability.DefaultConfig()
	}
	tracer, err := observability.NewTracerProvider(obsCfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled: %v", err)
		tracer = nil
	}

	server, err := sink.NewServer(cfg, logger, tracer)
	if err != nil {
		return err
	}

	fmt.Printf("🗄  pixlift sink on http://%s (store %s)\n", server.Addr(), cfg.Dir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	fmt.Println("Shutting down...")
	if err := server.Stop(); err != nil {
		return err
	}
	if tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}
	return nil
}
