package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zkbitcoin/committee/internal/config"
	"github.com/zkbitcoin/committee/internal/logging"
	"go.uber.org/zap"
)

var (
	settings *config.Settings
	logger   = zap.NewNop()
)

// nodeFlags are flags of some subcommands that map to settings.
var nodeFlags = map[string]string{
	"listen":      "listen",
	"redis":       "redis",
	"deployments": "deployments",
}

var rootArg struct {
	ConfigFile string
}

var rootCmd = &cobra.Command{
	Use:           "zkbtc",
	Short:         "zkBitcoin committee tools",
	Args:          NoExtraArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		keys := map[string]string{
			"network":   "network",
			"log-level": "logging.level",
			"log-file":  "logging.file",
		}
		for flag, key := range nodeFlags {
			if cmd.Flags().Lookup(flag) != nil {
				keys[flag] = key
			}
		}
		v := config.NewViper()
		if err := config.Bind(v, cmd.Flags(), keys); err != nil {
			return err
		}
		s, err := config.Load(v, rootArg.ConfigFile)
		if err != nil {
			return err
		}
		l, err := logging.New(s.Logging)
		if err != nil {
			return err
		}
		settings, logger = s, l
		return nil
	},
}

// Execute runs the command line.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootArg.ConfigFile, "config", "", "settings file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("network", "testnet", "bitcoin network: mainnet, testnet, signet or regtest")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("log-file", "", "rotated log file, stderr when empty")
}

// NoExtraArgs rejects positional arguments.
func NoExtraArgs(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown args `%v`", args)
	}
	return nil
}

// passphrase returns the key share passphrase from the environment, if any.
func passphrase() []byte {
	return []byte(os.Getenv(config.EnvPrefix + "_KEY_PASSPHRASE"))
}
