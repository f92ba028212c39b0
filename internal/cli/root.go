// Package cli implements the weatherlookup command-line host.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/app"
	"github.com/kjstillabower/weather-lookup/internal/config"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/service"
)

// Global flags
var (
	verbose   bool
	offline   bool
	jsonOut   bool
	configEnv string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "weatherlookup",
	Short:         "Offline-aware weather forecasts",
	Long:          `Look up WeatherAPI.com forecasts, keeping recent cities cached for offline use.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Act as if the provider is unreachable; serve from cache only")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&configEnv, "config-env", "", "Config environment (reads config/<env>.yaml; default $ENV_NAME or dev)")
}

// loadConfig applies --config-env and loads configuration from the working directory.
func loadConfig() (*config.Config, error) {
	if configEnv != "" {
		if err := os.Setenv("ENV_NAME", configEnv); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

// withApp builds the app with the CLI logger, detects connectivity, and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	logger, err := observability.NewCLILogger(verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger, app.Options{ForceOffline: offline})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("shutdown", zap.Error(cerr))
		}
	}()
	a.DetectConnectivity(ctx)
	return fn(ctx, a)
}

// errorText prefers the user-facing message for service errors.
func errorText(err error) string {
	if k := service.KindOf(err); k != service.KindUnknown && k != service.KindNone {
		return service.Message(err)
	}
	return err.Error()
}

// exitCode maps error kinds to process exit codes.
func exitCode(err error) int {
	switch service.KindOf(err) {
	case service.KindInvalidInput:
		return 2
	case service.KindOfflineNoCache, service.KindOfflineSearch:
		return 3
	case service.KindNetwork, service.KindProvider, service.KindIncompleteData:
		return 4
	case service.KindPersistence:
		return 5
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
