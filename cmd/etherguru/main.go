package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basonpark/ether-guru/internal/config"
	"github.com/basonpark/ether-guru/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// app carries what PersistentPreRunE resolves for the subcommands
type app struct {
	cfg *config.Config
	log logger.Logger
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	a := &app{}
	var envFile string

	cmd := &cobra.Command{
		Use:          "etherguru",
		Short:        "Crawl, chunk and index Ethereum developer documentation",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var opts []config.Option
			if envFile != "" {
				opts = append(opts, config.WithEnvFile(envFile))
			}
			cfg, err := config.Load(opts...)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logLevel, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
			if err != nil {
				return err
			}
			// Flags win over the environment only when given explicitly
			if !cmd.Flags().Changed("log-level") {
				logLevel = cfg.Log.Level
			}
			if !cmd.Flags().Changed("log-json") {
				logJSON = cfg.Log.JSON
			}
			logger.SetupLogger(logLevel, logJSON, logSource)

			a.cfg = cfg
			a.log = logger.GetDefault()
			return nil
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, disabled)")
	cmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
	cmd.PersistentFlags().Bool("log-source", false, "include caller location in logs")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load settings from this .env file")

	cmd.AddCommand(
		crawlCmd(a),
		embedCmd(a),
		chunkCmd(a),
		serveCmd(a),
		versionCmd(),
	)
	return cmd
}
