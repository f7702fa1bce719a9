package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "links",
		Short: "Builds or extends the work list",
		Long: `Expands the configured seed URLs, plus every region found on the seed
page, into sale and rent variants for each property type and merges them into
the work list. Existing items keep their status.`,
		RunE: withApp(func(ctx context.Context, a App) error {
			added, err := a.GenerateLinks(ctx)
			if err != nil {
				return fmt.Errorf("generate links: %w", err)
			}
			a.Logger().Info("links command finished", zap.Int("added", added))
			return nil
		}),
	}
}

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every unfinished work item",
		Long: `Renders each pending work item in headless Chrome, follows its pagination
chain, and publishes every page's embedded data to the payload topic.`,
		RunE: withApp(func(ctx context.Context, a App) error {
			if err := ignoreCanceled(a.Crawl(ctx)); err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			a.Logger().Info("crawl command finished")
			return nil
		}),
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Consumes payloads into the listings tables",
		RunE: withApp(func(ctx context.Context, a App) error {
			if err := ignoreCanceled(a.Ingest(ctx)); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return nil
		}),
	}
}

func newTrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track",
		Short: "Consumes status events into the work list",
		RunE: withApp(func(ctx context.Context, a App) error {
			if err := ignoreCanceled(a.Track(ctx)); err != nil {
				return fmt.Errorf("track: %w", err)
			}
			return nil
		}),
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawls, ingests, and tracks in one process",
		RunE: withApp(func(ctx context.Context, a App) error {
			if err := ignoreCanceled(a.RunAll(ctx)); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			a.Logger().Info("run command finished")
			return nil
		}),
	}
}
