// Command beacon runs the analytics pipeline as a standalone process:
// events arrive as JSON lines on stdin and flow through the configured
// middleware chain to the configured sinks.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaconkit/beacon"
	"github.com/beaconkit/beacon/pkg/config"
	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/plugin"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "beacon",
		Short: "Event analytics pipeline",
	}
	root.AddCommand(newRunCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beacon %s\n", Version)
		},
	}
}

func newRunCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, reading JSON lines from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", getEnv("BEACON_CONFIG", "beacon.yaml"), "Pipeline configuration file")
	return cmd
}

func run(configFile string) error {
	log.Printf("Starting beacon v%s", Version)

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	if cfg.Tracing.Enabled {
		err := observability.InitTracing(observability.TracingConfig{
			Enabled:      true,
			ExporterType: cfg.Tracing.Exporter,
			OTLPEndpoint: cfg.Tracing.Endpoint,
		})
		if err != nil {
			return err
		}
	}

	a, err := beacon.FromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Initialize(ctx); err != nil {
		return err
	}

	errChan := make(chan error, 2)

	var obsServer *observability.Server
	if cfg.Metrics.Enabled {
		observability.InitMetrics()
		checker := observability.NewChecker()
		checker.Register(observability.PingCheck())
		for _, check := range a.HealthChecks() {
			checker.Register(check)
		}

		obsServer = observability.NewServer(cfg.Metrics.Port, checker)
		go func() {
			log.Printf("Starting observability server on :%d", cfg.Metrics.Port)
			if err := obsServer.Start(); err != nil {
				errChan <- fmt.Errorf("observability server error: %w", err)
			}
		}()
	}

	go func() {
		errChan <- readLoop(ctx, a, os.Stdin)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if err != nil {
			log.Printf("Error: %v", err)
		}
	case <-quit:
		log.Println("Shutting down pipeline...")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Observability server shutdown error: %v", err)
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Printf("Pipeline shutdown error: %v", err)
	}
	if cfg.Tracing.Enabled {
		if err := observability.ShutdownTracing(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}

	log.Println("Pipeline stopped")
	return nil
}

// inputLine is one stdin record. Type selects the dispatch method.
type inputLine struct {
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Path       string         `json:"path,omitempty"`
	Title      string         `json:"title,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Traits     map[string]any `json:"traits,omitempty"`
}

// readLoop dispatches one JSON line at a time until EOF or cancellation.
// A malformed line or a rejected custom event is logged and skipped, never
// fatal.
func readLoop(ctx context.Context, a *beacon.Analytics, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var in inputLine
		if err := json.Unmarshal(line, &in); err != nil {
			log.Printf("Skipping malformed line: %v", err)
			continue
		}

		var err error
		switch in.Type {
		case "track":
			err = a.Track(ctx, in.Name, in.Properties)
		case "page":
			err = a.Page(ctx, plugin.PageView{
				Path:       in.Path,
				Title:      in.Title,
				Properties: in.Properties,
			})
		case "identify":
			err = a.Identify(ctx, in.UserID, in.Traits)
		default:
			log.Printf("Skipping unknown type %q", in.Type)
			continue
		}
		if err != nil {
			log.Printf("Rejected %s: %v", in.Type, err)
		}
	}
	return scanner.Err()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
