// File: cmd/rollover/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/connection"
	"github.com/smartdevs17/rollover-caller/internal/storage"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig reads and validates configuration from the --config and --env-file flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: viper.GetString("config"),
		EnvFile:    viper.GetString("env-file"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if level := viper.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "rollover-caller",
	Short:         "Scheduled rollover() contract caller",
	Long:          `Calls rollover() on a contract once at startup and then on a cron schedule, appending every outcome to a log file.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCaller,
}

// runCaller is the main command: invoke once, then on schedule until a signal arrives
func runCaller(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			// the failure is already on the console and in the log file
			return nil
		}
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	if err := app.Start(); err != nil {
		if !errors.Is(err, ErrNotConnected) || app.server == nil {
			app.Stop()
			if errors.Is(err, ErrNotConnected) {
				// the failure is already on the console and in the log file
				return nil
			}
			return fmt.Errorf("failed to start application: %w", err)
		}
		app.logger.Warn("Blockchain unreachable; rollover is not scheduled, serving the API only")
	}

	select {
	case <-signalChan:
		fmt.Println("\nReceived shutdown signal, stopping...")
	case <-app.Done():
	}

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Rollover Caller %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration without contacting the node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("RPC endpoint: %s\n", connection.EndpointLabel(cfg.RPCURL))
		fmt.Printf("Contract: %s.%s()\n", cfg.ContractAddress, cfg.Rollover.Method)
		fmt.Printf("Schedule: %s (%s, overlap %s)\n", cfg.Schedule.Cron, cfg.Schedule.Timezone, cfg.Schedule.Overlap)
		fmt.Printf("Log file: %s\n", cfg.Rollover.LogFile)
		fmt.Printf("Attempt history: %s\n", cfg.Storage.Type)

		return nil
	},
}

// testCmd checks connectivity without sending a transaction
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Server.Enabled = false

		fmt.Printf("Testing connection to %s...\n", connection.EndpointLabel(cfg.RPCURL))
		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Stop()

		block, err := app.VerifyConnectivity()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node reachable at block %d\n", block)

		if app.storage != nil {
			if err := app.storage.Ping(); err != nil {
				return fmt.Errorf("storage ping failed: %w", err)
			}
			fmt.Printf("✓ Storage connection successful (%s)\n", cfg.Storage.Type)
		}

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// callCmd performs one invocation without scheduling
var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Call rollover() once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Server.Enabled = false

		app, err := NewApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Stop()

		attempt, err := app.CallOnce()
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s\n", attempt.TxHash)
		return nil
	},
}

// historyCmd prints recent attempts from the history database
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent rollover attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{
			ConfigFile: viper.GetString("config"),
			EnvFile:    viper.GetString("env-file"),
		})
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if !storage.Enabled(&cfg.Storage) {
			return fmt.Errorf("attempt history is disabled (storage.type is %q)", cfg.Storage.Type)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		return printHistory(cmd.OutOrStdout(), &cfg.Storage, limit)
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("env-file", rootCmd.PersistentFlags().Lookup("env-file"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	historyCmd.Flags().Int("limit", 20, "number of attempts to show")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(historyCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, config.ErrMissingRequired) {
			fmt.Fprintln(os.Stderr, config.MissingRequiredMessage)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
