package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/chatgate/internal/access"
	"github.com/goodtune/chatgate/internal/clock"
	"github.com/goodtune/chatgate/internal/config"
	"github.com/goodtune/chatgate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkRequests  int
	checkAddress   string
	checkInterval  time.Duration
	checkElapsed   time.Duration
	checkAnonymous bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Simulate access decisions for a sequence of requests",
	Long: `Replay a burst of chat requests from one client against an in-memory copy
of the configured limits and print each decision. No configured storage is
touched and no replies are generated.`,
	Example: `  chatgate -c config.yaml check --requests 15
  chatgate check --requests 12 --interval 10s --elapsed 45s
  chatgate check --address "" --anonymous --requests 60`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkRequests, "requests", 12, "Number of requests to simulate")
	checkCmd.Flags().StringVar(&checkAddress, "address", "203.0.113.10", "Client address (empty for the shared unknown bucket)")
	checkCmd.Flags().DurationVar(&checkInterval, "interval", time.Second, "Simulated time between requests")
	checkCmd.Flags().DurationVar(&checkElapsed, "elapsed", 2*time.Second, "Simulated reply generation time per exchange")
	checkCmd.Flags().BoolVar(&checkAnonymous, "anonymous", false, "Never present a session token (every request mints a session)")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkRequests <= 0 {
		return fmt.Errorf("--requests must be positive")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Create a quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	// Always simulate in memory, whatever backend is configured
	memCfg := *cfg
	memCfg.Storage.Type = "memory"
	store, err := openStorage(&memCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	clk := clock.NewTestClock(time.Now())
	core, err := newStack(cfg, store, clk, logger)
	if err != nil {
		return err
	}

	printCheckHeader(cfg)

	ctx := context.Background()
	var token string
	for i := 1; i <= checkRequests; i++ {
		decision, err := core.controller.Authorize(ctx, access.Request{
			ClientAddress: checkAddress,
			ClientAgent:   "chatgate-check",
			SessionToken:  token,
		})
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}

		printDecision(i, clk.Now(), decision)

		if decision.Outcome == access.Allowed {
			if _, err := core.controller.RecordCompletion(ctx, decision.SessionID, checkElapsed); err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
		}
		if decision.SessionID != "" && !checkAnonymous {
			token = decision.SessionID
		}

		clk.Advance(checkInterval)
	}

	cyan := color.New(color.FgCyan, color.Bold)
	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	return nil
}

func printCheckHeader(cfg *config.Config) {
	cyan := color.New(color.FgCyan, color.Bold)

	address := checkAddress
	if address == "" {
		address = "(unknown)"
	}

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("  Access Decision Simulation")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Address:    %s\n", address)
	fmt.Printf("Rate limit: %d per %s (unknown bucket x%d)\n",
		cfg.RateLimit.MaxRequests, cfg.RateLimit.Window, cfg.RateLimit.UnknownBucketMultiplier)
	fmt.Printf("Quota:      %s per day, reset at %s\n", cfg.Usage.DailyLimit, cfg.Usage.DailyResetTime)
	fmt.Printf("Cost:       %s", cfg.Usage.CostMode)
	if cfg.Usage.CostMode == string(access.CostFlat) {
		fmt.Printf(" (%s per exchange)", cfg.Usage.FlatCost)
	} else {
		fmt.Printf(" (%s per exchange)", checkElapsed)
	}
	fmt.Println()
	fmt.Println()
}

func printDecision(n int, at time.Time, d access.Decision) {
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Printf("#%-3d %s  ", n, at.Format("15:04:05"))

	switch d.Outcome {
	case access.Allowed:
		_, _ = green.Printf("%-14s", "ALLOWED")
		fmt.Printf(" remaining %ds of %ds", d.RemainingSeconds, d.LimitSeconds)
	case access.RateLimited:
		_, _ = yellow.Printf("%-14s", "RATE LIMITED")
		fmt.Printf(" retry after %s", d.RetryAfter.Round(time.Second))
	case access.DailyLimitReached:
		_, _ = red.Printf("%-14s", "DAILY LIMIT")
		fmt.Printf(" resets at %s", d.ResetsAt.Format(time.RFC3339))
	}

	if d.NewSession {
		fmt.Printf("  [new session %s]", storage.Redact(d.SessionID))
	}
	fmt.Println()
}
