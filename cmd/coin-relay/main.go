// Command coin-relay drives a coin-operated machine's relay from coin
// insertions, a daily schedule and remote commands, and reports its state
// over MQTT and HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/coin-relay/internal/config"
	"github.com/sweeney/coin-relay/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "coin-relay",
	Short: "Coin-operated machine controller",
	Long: `coin-relay switches a machine's relay on coin insertion (coin policy) or
inside a daily time window (scheduled policy), persists the coin counter and
on/off state across restarts, and accepts remote set commands over HTTP,
websocket and MQTT.

Run without a subcommand to start the daemon.`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon (default)",
	RunE:  runDaemon,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file (created from defaults if missing)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(countersCmd)
	rootCmd.AddCommand(resetCounterCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file and builds the configured logger.
func loadConfig() (*config.Store, config.Settings, *zap.Logger, error) {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return nil, config.Settings{}, nil, fmt.Errorf("load config: %w", err)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return nil, config.Settings{}, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(settings.Log)
	if err != nil {
		return nil, config.Settings{}, nil, fmt.Errorf("init logger: %w", err)
	}
	cfg.SetLogger(log)
	return cfg, settings, log, nil
}
