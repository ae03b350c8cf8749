package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
)

var (
	// Persistent flags
	configFiles []string
	envFile     string
	logLevel    string
	showBanner  bool

	// Global state, set by loadConfig before any command runs
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "dracma",
	Short: "Harvest advisor portfolio data from the inviu portal",
	Long: `Dracma logs into the advisor portal with an emailed or sheet-published
one-time code, refreshes the session token, and stores every configured
data endpoint as a dated JSON artifact.

Without a subcommand it performs one full run.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	RunE:              runRun,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&showBanner, "banner", true, "Print the startup banner")

	rootCmd.AddCommand(runCmd, loginCmd, otpCmd, fetchCmd, serveCmd, historyCmd, versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if logger != nil {
			logger.Error().Err(err).Msg("Command failed")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig runs the startup sequence:
// .env -> defaults -> config files -> env -> flags -> logger -> banner
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}

	envVars, err := common.LoadDotEnv(envFile, false)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("dracma.toml"); err == nil {
			configFiles = append(configFiles, "dracma.toml")
		}
	}

	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	common.ApplyFlagOverrides(config, logLevel)

	logger = common.InitLogger(config)

	if showBanner {
		common.PrintBanner(common.GetVersion())
	}
	common.LogStartup(config, logger)
	if envVars > 0 {
		logger.Debug().Str("file", envFile).Int("vars", envVars).Msg("Environment file loaded")
	}
	if len(configFiles) > 0 {
		logger.Debug().Strs("config_files", configFiles).Msg("Configuration files applied")
	}
	return nil
}
