// ABOUTME: Entry point for agent-runtime, which runs one agent from a config file
// ABOUTME: Also inspects configs and seeds the local ledger

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/agent-runtime/internal/config"
	"github.com/2389/agent-runtime/internal/logging"
	"github.com/2389/agent-runtime/internal/metrics"
	"github.com/2389/agent-runtime/internal/skills"
	"github.com/2389/agent-runtime/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
                         _
  __ _  __ _  ___ _ __ | |_     _ __ _   _ _ __ | |_(_)_ __ ___   ___
 / _' |/ _' |/ _ \ '_ \| __|___| '__| | | | '_ \| __| | '_ ' _ \ / _ \
| (_| | (_| |  __/ | | | ||_____| |  | |_| | | | | |_| | | | | | |  __/
 \__,_|\__, |\___|_| |_|\__|    |_|   \__,_|_| |_|\__|_|_| |_| |_|\___|
       |___/
`

// getConfigPath returns the path to the agent config file.
// Priority: second argument > AGENT_CONFIG env var > XDG_CONFIG_HOME/agent-runtime/agent.yaml > ~/.config/agent-runtime/agent.yaml
func getConfigPath(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if envPath := os.Getenv("AGENT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agent-runtime", "agent.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agent-runtime <command> [config]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run [config]                              Run the agent")
		fmt.Println("  check [config]                            Validate the config and print a summary")
		fmt.Println("  skills                                    List built-in skills")
		fmt.Println("  credit LEDGER ADDRESS AMOUNT [config]     Credit an account in the local ledger")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent(ctx, os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "skills":
		for _, name := range skills.Builtin().Names() {
			fmt.Println(name)
		}
	case "credit":
		err = runCredit(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(ctx context.Context, args []string) error {
	configPath := getConfigPath(args)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	printSummary(configPath, cfg)

	rt, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, rt.collector, func() (bool, string) {
			if rt.mux.IsConnected() {
				return true, "connected"
			}
			return false, "not connected"
		}, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	logger.Info("starting agent-runtime",
		"config", configPath,
		"agent", cfg.Agent.Name,
		"address", cfg.Agent.Address,
	)
	return rt.agent.Run(ctx)
}

func runCheck(args []string) error {
	configPath := getConfigPath(args)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	printSummary(configPath, cfg)
	color.New(color.FgGreen).Println("    config ok")
	return nil
}

func printSummary(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:       %s (%s)\n", cfg.Agent.Name, cfg.Agent.Address)
	for _, c := range cfg.Connections {
		green.Print("    ▶ ")
		fmt.Printf("Connection:  %s ", c.ID)
		gray.Printf("[%s]", c.Type)
		if c.ID == cfg.Agent.DefaultConnection {
			color.New(color.FgYellow).Print(" default")
		}
		fmt.Println()
	}
	for _, s := range cfg.Skills {
		green.Print("    ▶ ")
		fmt.Printf("Skill:       %s\n", s.Name)
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:     %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()
}

// runCredit seeds an account in the SQLite ledger the config points at.
func runCredit(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: agent-runtime credit LEDGER ADDRESS AMOUNT [config]")
	}
	amount, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing amount %q: %w", args[2], err)
	}

	cfg, err := config.Load(getConfigPath(args[3:]))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not configured")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	if err := s.Credit(ctx, args[0], args[1], amount); err != nil {
		return fmt.Errorf("crediting %s: %w", args[1], err)
	}
	bal, err := s.Balance(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	fmt.Printf("%s on %s: %d\n", args[1], args[0], bal)
	return nil
}
