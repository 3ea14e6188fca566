// Command microforge turns a natural-language request into a small, verified
// logic program and executes saved programs against real data.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config keys; flags of the same name are bound to them so values can come
// from flags, MICROFORGE_* environment variables, or a config file.
const (
	keyProvider    = "provider"
	keyModel       = "model"
	keyMaxAttempts = "max-attempts"
	keyCallTimeout = "call-timeout"
	keyParallel    = "parallel"
	keyProfile     = "profile"

	envPrefix = "MICROFORGE"

	defaultModel       = "claude-sonnet-4-20250514"
	defaultMaxAttempts = 3
	defaultCallTimeout = 2 * time.Minute
	defaultParallel    = 4
)

var (
	logger  *zap.Logger
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "microforge",
		Short: "Build and repair small verified logic programs from natural language",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := zap.NewProductionConfig()
			if verbose {
				cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = cfg.Build()
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	initConfig()
	root.AddCommand(newBuildCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig wires defaults, an optional microforge.yaml, and MICROFORGE_*
// environment variables into viper.
func initConfig() {
	viper.SetDefault(keyProvider, "anthropic")
	viper.SetDefault(keyModel, defaultModel)
	viper.SetDefault(keyMaxAttempts, defaultMaxAttempts)
	viper.SetDefault(keyCallTimeout, defaultCallTimeout)
	viper.SetDefault(keyParallel, defaultParallel)
	viper.SetDefault(keyProfile, "general")

	viper.SetConfigName("microforge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; anything else should be heard about.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: config file: %v\n", err)
		}
	}
}

// bindFlag wires a cobra flag to a viper key so config/env values feed the
// flag's default.
func bindFlag(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}
	cobra.CheckErr(viper.BindPFlag(key, flag))
}
