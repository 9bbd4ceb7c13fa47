// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/internal/config"
	"github.com/xkilldash9x/noticescan/internal/observability"
)

// appConfig is the configuration loaded once per command invocation.
type appConfig struct {
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds a fresh command tree. Every call returns an
// independent tree, so flags never leak between executions.
func NewRootCommand() *cobra.Command {
	app := &appConfig{}

	rootCmd := &cobra.Command{
		Use:           "noticescan",
		Short:         "noticescan detects and exercises cookie consent notices on websites.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			cfg, err := loadConfig(app.cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "noticescan"})
				return err
			}
			app.cfg = cfg
			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting noticescan", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&app.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(newScanCmd(app, nil))
	rootCmd.AddCommand(newSampleCmd(app))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with the signal-aware ctx and logs the
// failure, if any.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	defer observability.Sync()
	if errors.Is(err, context.Canceled) {
		observability.GetLogger().Info("Scan interrupted.")
		return err
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return err
}

// loadConfig reads the config file, if any, and NOTICESCAN_ environment
// variables on top of the defaults.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return config.NewConfigFromViper(v)
}
