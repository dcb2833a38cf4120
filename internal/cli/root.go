// Package cli implements pitchctl, the operator command line for scenarios,
// offline simulation and session history.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PITCHCTL"

// Execute runs the root command.
func Execute() error {
	return newRootCmd(viper.New()).Execute()
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "pitchctl",
		Short:         "Pitch Labs operator CLI",
		Long:          "pitchctl validates scenario files, replays scripted trainee turns against the session engine, and reads persisted session history.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig(v, cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (toml or yaml)")
	flags.String("db", "./data/pitchlabs.db", "SQLite database path")
	flags.String("scenario-dir", "", "Directory of scenario files layered over the built-in set")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newScenariosCmd(v),
		newSimulateCmd(v),
		newHistoryCmd(v),
	)

	return rootCmd
}

func loadConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		return nil
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", cfgFile, err)
	}
	return nil
}

func newLogger(v *viper.Viper) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
