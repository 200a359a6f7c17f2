package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

func newResetCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <source>...",
		Short: "Discard the checkpoint of a source so its next run starts fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			return resetSources(cmd.Context(), cfg, args, cmd.OutOrStdout())
		},
	}
}

// resetSources retires checkpoints while holding each source's run lock, so a
// live run is never reset underneath itself.
func resetSources(ctx context.Context, cfg *config.Config, names []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, name := range names {
		lock, err := checkpoint.AcquireLock(cfg.StateDir, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		err = store.Retire(ctx, name)
		if rerr := lock.Release(); rerr != nil {
			slog.Warn("release lock", slog.String("source", name), slog.Any("error", rerr))
		}
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(out, "%s: checkpoint cleared\n", name)
	}
	return nil
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the available sources",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range sources.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
