// Package cmd defines the CLI commands of the listings pipeline.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/app"
	"github.com/JakeFAU/olx-listings-pipeline/internal/config"
	"github.com/JakeFAU/olx-listings-pipeline/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface the commands drive. Tests substitute a fake.
type App interface {
	GenerateLinks(ctx context.Context) (int, error)
	Crawl(ctx context.Context) error
	Ingest(ctx context.Context) error
	Track(ctx context.Context) error
	RunAll(ctx context.Context) error
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, logging.Service(cfg.Telemetry.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "olx-listings",
		Short: "Crawls OLX real-estate search results into sale and rent tables.",
		Long: `olx-listings builds a work list of OLX search URLs, renders every results
page in headless Chrome, and streams the embedded listing data through a
message queue into Postgres. Status events flow back into the work list so an
interrupted crawl resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); LISTINGS_* env vars override it")

	cmd.AddCommand(
		newLinksCmd(),
		newCrawlCmd(),
		newIngestCmd(),
		newTrackCmd(),
		newRunCmd(),
	)
	return cmd
}

// Execute runs the root command until it finishes or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// withApp resolves the App for a command and closes it once fn returns,
// whether or not fn failed.
func withApp(fn func(ctx context.Context, a App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if cerr := appInstance.Close(ctx); cerr != nil {
				appInstance.Logger().Warn("shutdown finished with errors", zap.Error(cerr))
			}
		}()
		return fn(cmd.Context(), appInstance)
	}
}

// ignoreCanceled treats a signal-driven shutdown as success.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
