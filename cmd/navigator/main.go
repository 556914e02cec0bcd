package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/version"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

var (
	// Global flags
	configPath     string
	workspacesRoot string
	verbose        bool

	// Loaded once in PersistentPreRunE, shared by every command
	settings *config.Settings
	logger   *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "navigator",
	Short: "PlanWise Navigator - workforce simulation studio",
	Long: `Navigator manages workforce simulation workspaces: scenarios and their
config overrides, simulation runs with live telemetry, run archives with
retention, result queries and comparisons, and portable workspace bundles.

The simulation engine itself is an external subprocess; navigator prepares
its inputs, supervises it, and reads the result database it writes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		if logger, err = zc.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if settings, err = config.Load(configPath); err != nil {
			return err
		}
		if workspacesRoot != "" {
			settings.WorkspacesRoot = workspacesRoot
		}
		if verbose {
			settings.Logging.DebugMode = true
			settings.Logging.Level = "debug"
		}
		if err := settings.Validate(); err != nil {
			return err
		}

		if err := logging.Initialize(settings.WorkspacesRoot, logging.Options{
			DebugMode:  settings.Logging.DebugMode,
			Level:      settings.Logging.Level,
			Categories: settings.Logging.Categories,
			JSONFormat: settings.Logging.JSONFormat,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if err := logging.InitializeAudit(settings.WorkspacesRoot); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the navigator version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

// openStore opens the workspace store under the configured root.
func openStore() (*workspace.Store, error) {
	return workspace.New(settings.WorkspacesRoot, settings.DefaultConfigPath)
}

// printJSON writes v to stdout, indented. All machine-readable command
// output goes through here.
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "navigator.yaml", "Settings file (missing file falls back to defaults)")
	rootCmd.PersistentFlags().StringVar(&workspacesRoot, "workspaces-root", "", "Override the workspaces root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
