package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "msgboard",
	Short: "msgboard - a tiny message board with a datagram storage daemon",
	Long: `msgboard serves a handful of HTML pages, forwards form submissions as
UDP datagrams to a storage daemon and keeps them in a JSON file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Server commands
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)

	// Configuration commands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)

	// Data commands
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}

// Start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the web front and the storage daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return startServer(cmd.Context(), configPath)
	},
}

// Validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if err := validateConfig(configPath); err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

// Status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the health endpoint of a running web front",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		return checkStatus(cmd.OutOrStdout(), url)
	},
}

// Init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration template",
	RunE: func(cmd *cobra.Command, args []string) error {
		template, _ := cmd.Flags().GetString("template")
		output, _ := cmd.Flags().GetString("output")
		force, _ := cmd.Flags().GetBool("force")
		return initializeConfig(cmd.OutOrStdout(), template, output, force)
	},
}

// Config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration, defaults included",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return showConfig(cmd.OutOrStdout(), configPath)
	},
}

// Records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect the JSON store",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored records, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _ := cmd.Flags().GetString("store")
		last, _ := cmd.Flags().GetInt("last")
		color, _ := cmd.Flags().GetBool("color")
		return listRecords(cmd.OutOrStdout(), store, last, color)
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get [path]",
	Short: "Query the store with a gjson path, or fetch one record with --key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _ := cmd.Flags().GetString("store")
		key, _ := cmd.Flags().GetBool("key")
		color, _ := cmd.Flags().GetBool("color")

		query := args[0]
		if key {
			query = escapeKey(query)
		}
		return getRecord(cmd.OutOrStdout(), store, query, color)
	},
}

// Send command
var sendCmd = &cobra.Command{
	Use:   "send [field=value ...]",
	Short: "Send one submission straight to the storage daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		raw, _ := cmd.Flags().GetBool("raw")
		return sendSubmission(cmd.OutOrStdout(), addr, args, raw)
	},
}

func init() {
	// Start flags
	startCmd.Flags().StringP("config", "c", "", "Configuration file path")

	// Validate flags
	validateCmd.Flags().StringP("config", "c", "msgboard.yaml", "Configuration file path")

	// Status flags
	statusCmd.Flags().StringP("url", "u", defaultBoardURL, "Base URL of the web front")

	// Init flags
	initCmd.Flags().StringP("template", "t", "basic", "Template type (basic, full)")
	initCmd.Flags().StringP("output", "o", "msgboard.yaml", "Output file path")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")

	// Config flags
	configShowCmd.Flags().StringP("config", "c", "", "Configuration file path")
	configCmd.AddCommand(configShowCmd)

	// Records flags and subcommands
	recordsCmd.PersistentFlags().StringP("store", "s", defaultStorePath, "Path to the JSON store")
	recordsCmd.PersistentFlags().Bool("color", false, "Colorize JSON output")
	recordsListCmd.Flags().IntP("last", "n", 0, "Only show the newest n records")
	recordsGetCmd.Flags().BoolP("key", "k", false, "Treat the argument as a literal record timestamp")
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsGetCmd)

	// Send flags
	sendCmd.Flags().StringP("addr", "a", defaultDaemonAddr, "Storage daemon address")
	sendCmd.Flags().Bool("raw", false, "Send the single argument verbatim instead of encoding fields")
}
