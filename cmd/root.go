package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Lumiport-Network/relay/internal/application"
	"github.com/Lumiport-Network/relay/internal/config"
	"github.com/Lumiport-Network/relay/internal/logger"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Loaded configuration
)

// rootCmd defines the main CLI command for the lumiport relay
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Lumiport relay is a WebSocket session relay for remote desktop connections",
	Long:  `Relay server for the Lumiport network: session signaling, data and media relay, server directory, and host trust.`,
	Example: `
  relay start --listen-addr :8085
  relay start --log-level debug --metrics-port 9090
  relay start --config /path/to/config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("relay-name") {
			cfg.Relay.Name, _ = flags.GetString("relay-name")
		}
		if flags.Changed("listen-addr") {
			cfg.Relay.ListenAddr, _ = flags.GetString("listen-addr")
		}
		if flags.Changed("access-mode") {
			cfg.Access.Mode, _ = flags.GetString("access-mode")
		}
		if flags.Changed("metrics-port") {
			portStr, _ := flags.GetString("metrics-port")
			cfg.Metrics.Port, _ = strconv.Atoi(portStr)
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")

	rootCmd.PersistentFlags().String("relay-name", "", "Name of the relay (max 30 chars)")
	rootCmd.PersistentFlags().String("listen-addr", ":8085", "Listen address for the relay server")
	rootCmd.PersistentFlags().String("access-mode", "", "Access mode (public, pin, password, two-factor, whitelist)")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-file", "", "Path to the log file")
	rootCmd.PersistentFlags().String("log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().String("metrics-port", "8181", "Port for Prometheus metrics server")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the lumiport relay",
		Long:  "Print the version number of the lumiport relay along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	})

	versionCmd := rootCmd.Commands()[len(rootCmd.Commands())-1]
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the lumiport relay server",
		Long:  "Start the lumiport relay server with the specified configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfgFile, _ = cmd.Flags().GetString("config")
			if cfgFile != "" {
				absPath, err := filepath.Abs(cfgFile)
				if err != nil {
					logger.Error("Failed to resolve absolute path for config", zap.Error(err))
					os.Exit(1)
				}
				cfgFile = absPath
				logger.Info("Using config file", zap.String("config_file", cfgFile))
			}

			ctx := cmd.Context()

			logger.Info("Starting relay...")
			node, err := application.NewNode(ctx, cfg)
			if err != nil {
				logger.Error("Failed to initialize the relay", zap.Error(err))
				os.Exit(1)
			}

			go func() {
				<-ctx.Done()
				logger.Info("Shutdown signal received, initiating graceful shutdown")
				node.Stop()
			}()

			if err := node.Start(ctx); err != nil {
				logger.Error("Failed to start the relay", zap.Error(err))
				os.Exit(1)
			}

			logger.Info("Lumiport relay started successfully")
		},
	}

	rootCmd.AddCommand(startCmd)
}
