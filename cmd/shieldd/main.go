// Package main is the CLI entry point for shieldd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/safehold/shieldd/internal/config"
	"github.com/safehold/shieldd/internal/daemon"
	"github.com/safehold/shieldd/internal/domain"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shieldd",
	Short: "Contextual content-blocking engine for parental controls",
	Long: `shieldd evaluates beacon-proximity, geofence and time-window rules
and keeps the platform content filter synchronized with the result.

The 'run' command is the long-lived primary daemon; 'monitor' is the
one-shot liveness check the OS scheduler invokes while the primary may
be dead.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the primary enforcement daemon",
	Long: `Starts the primary daemon: consumes proximity and geofence events,
evaluates rules, drives the content filter, and writes the heartbeat
and active-rule snapshot the background monitor relies on.`,
	RunE: runPrimary,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one background liveness check",
	Long: `Performs a single monitor activation: decide from the shared heartbeat
whether the primary daemon is alive and, if not, apply the safety net
from the last known snapshot. Exits immediately after.`,
	RunE: runMonitor,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enforcement status",
	Long:  `Shows heartbeat freshness, safety-net state and the applied filter state.`,
	RunE:  runStatus,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage blocking rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules",
	RunE:  runRulesList,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import rules from a JSON file",
	Long:  `Reads a JSON array of rules and upserts each into the encrypted rule store.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesImport,
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Activate a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleActive(args[0], true) },
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Deactivate a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setRuleActive(args[0], false) },
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRemove,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesEnableCmd)
	rulesCmd.AddCommand(rulesDisableCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Default(), nil
}

func runPrimary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogPath)
	defer func() { _ = logger.Sync() }()

	primary, rules, err := daemon.BuildPrimary(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build primary daemon: %w", err)
	}
	defer rules.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Pick up rule edits made by the companion UI process.
	go func() {
		if err := rules.WatchExternal(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("rule database watch stopped", zap.Error(err))
		}
	}()

	if err := primary.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg.LogPath)
	defer func() { _ = logger.Sync() }()

	monitor, flags := daemon.BuildMonitor(cfg, logger)
	action := daemon.RunMonitorActivation(context.Background(), monitor, flags, logger)

	fmt.Printf("Monitor check: %s\n", action)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shared := daemon.BuildSharedStores(cfg, zap.NewNop())

	fmt.Println("\n=== shieldd Status ===")

	record, err := shared.Heartbeats.Read()
	switch {
	case err != nil:
		fmt.Println("Heartbeat: UNREADABLE")
	case record.Timestamp.IsZero():
		fmt.Println("Heartbeat: never recorded (primary not running)")
	default:
		age := time.Since(record.Timestamp).Round(time.Second)
		fmt.Printf("Heartbeat: %s ago", age)
		if age > cfg.StalenessThreshold() {
			fmt.Print("  (STALE)")
		}
		fmt.Println()
	}
	if record.PresenceMarkerExists {
		fmt.Println("Presence marker: present (foreground, or force-quit)")
	}

	if pid := shared.Heartbeats.PID(); pid > 0 {
		fmt.Printf("Primary PID: %d\n", pid)
	}

	if shared.Flags.SafetyNetActive() {
		fmt.Println("Safety net: ACTIVE (background monitor enforcing)")
	} else {
		fmt.Println("Safety net: inactive")
	}

	state, err := shared.Filter.Current()
	switch {
	case err != nil:
		fmt.Println("Filter state: unreadable")
	case state == nil || state.IsClear():
		fmt.Println("Filter state: nothing blocked")
	default:
		fmt.Printf("Filter state (applied %s):\n", state.UpdatedAt.Format(time.RFC3339))
		printSlot("  Applications", state.Applications)
		printSlot("  Web domains", state.WebDomains)
		printSlot("  Categories", state.ActivityCategories)
	}

	if snap := shared.Snapshots.Load(); snap != nil {
		fmt.Printf("Snapshot: %d tokens, updated %s\n",
			len(snap.ActiveRuleTokens), snap.LastUpdated.Format(time.RFC3339))
	} else {
		fmt.Println("Snapshot: none")
	}

	fmt.Println("======================")
	return nil
}

func printSlot(label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Printf("%s: %s\n", label, strings.Join(values, ", "))
}

func runRulesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := daemon.OpenRuleStore(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open rule store: %w", err)
	}
	defer store.Close()

	rules, err := store.All()
	if err != nil {
		return err
	}

	fmt.Println("\n=== Blocking Rules ===")
	if len(rules) == 0 {
		fmt.Println("(none)")
	}
	for _, r := range rules {
		state := "inactive"
		if r.Active {
			state = "active"
		}
		fmt.Printf("\n[%s] %s (%s)\n", r.ID, r.Name, state)
		fmt.Printf("  Tokens: %d\n", len(r.BlockedTokens))
		if len(r.TimeConditions) > 0 {
			fmt.Printf("  Time windows: %d\n", len(r.TimeConditions))
		}
		for _, c := range r.BeaconConditions {
			fmt.Printf("  Beacon %s must be %s\n", c.BeaconKey, c.RequiredState)
		}
		for _, c := range r.LocationConditions {
			side := "inside"
			if !c.RequiredInside {
				side = "outside"
			}
			fmt.Printf("  Region %s must be %s\n", c.RegionID, side)
		}
	}
	fmt.Println("\n======================")
	return nil
}

func runRulesImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var rules []domain.Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}

	store, err := daemon.OpenRuleStore(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open rule store: %w", err)
	}
	defer store.Close()

	for _, rule := range rules {
		if err := store.Put(rule); err != nil {
			return fmt.Errorf("failed to store rule %q: %w", rule.Name, err)
		}
	}
	fmt.Printf("Imported %d rules\n", len(rules))
	return nil
}

func setRuleActive(id string, active bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := daemon.OpenRuleStore(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open rule store: %w", err)
	}
	defer store.Close()

	if err := store.SetActive(id, active); err != nil {
		return err
	}
	if active {
		fmt.Printf("Rule %s enabled\n", id)
	} else {
		fmt.Printf("Rule %s disabled\n", id)
	}
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := daemon.OpenRuleStore(cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("failed to open rule store: %w", err)
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Rule %s removed\n", args[0])
	return nil
}

func createLogger(logPath string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if logPath != "" {
		cfg.OutputPaths = []string{logPath}
		cfg.ErrorOutputPaths = []string{logPath}
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("shieldd %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
