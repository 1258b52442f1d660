// ABOUTME: Entry point for agent-relay, the gRPC envelope relay between agents
// ABOUTME: Also mints client tokens signed with the relay's JWT secret

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/agent-runtime/internal/auth"
	"github.com/2389/agent-runtime/internal/config"
	"github.com/2389/agent-runtime/internal/logging"
	"github.com/2389/agent-runtime/internal/metrics"
	"github.com/2389/agent-runtime/internal/relay"
)

// Version is set at build time.
var version = "dev"

const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the relay config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/agent-runtime/relay.yaml > ~/.config/agent-runtime/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agent-runtime", "relay.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agent-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the relay server")
		fmt.Println("  token ADDRESS [TTL]      Mint a token for ADDRESS (default TTL 720h)")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	gray := color.New(color.FgHiBlack)
	gray.Printf("agent-relay %s\n\n", version)

	cfg, err := config.LoadRelay(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Relay.GRPCAddr)
	if cfg.Relay.JWTSecret == "" {
		color.New(color.FgYellow).Println("    ! authentication disabled")
	}
	fmt.Println()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector("relay")
	}

	r, err := relay.New(relay.Config{
		JWTSecret:  cfg.Relay.JWTSecret,
		DedupeTTL:  cfg.Relay.DedupeTTL,
		DedupeSize: cfg.Relay.DedupeSize,
	}, collector, logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx, cfg.Relay.GRPCAddr) })
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, collector, func() (bool, string) {
			return true, fmt.Sprintf("ready (%d sessions)", r.Sessions().Len())
		}, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	return g.Wait()
}

func runToken(args []string) error {
	if len(args) < 1 || args[0] == "" {
		return fmt.Errorf("usage: agent-relay token ADDRESS [TTL]")
	}
	ttl := defaultTokenTTL
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", args[1], err)
		}
		ttl = d
	}

	cfg, err := config.LoadRelay(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Relay.JWTSecret == "" {
		return relay.ErrAuthDisabled
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Relay.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(args[0], ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}
