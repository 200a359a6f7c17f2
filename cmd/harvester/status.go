package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/sources"
)

func newStatusCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [sources...]",
		Short: "Show the checkpoint of each source",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = sources.Names()
			}
			return printStatus(cmd.Context(), cfg, names, cmd.OutOrStdout())
		},
	}
}

func printStatus(ctx context.Context, cfg *config.Config, names []string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := checkpoint.Open(cfg.CheckpointBackend, cfg.StateDir)
	if err != nil {
		return err
	}
	defer store.Close()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tRUN\tCATEGORY\tPAGE\tKEPT\tCHUNKS\tSTATE\tUPDATED")
	for _, name := range names {
		state, ok, err := store.LoadState(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\tidle\t-\n", name)
			continue
		}
		chunks, err := store.LoadChunks(ctx, name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		phase := "in progress"
		if state.Terminal {
			phase = "fetched, not consolidated"
		}
		updated := "-"
		if !state.UpdatedAt.IsZero() {
			updated = state.UpdatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			name, state.RunID, state.CategoryIndex, state.PageIndex,
			state.Counters.Kept, len(chunks), phase, updated)
	}
	return tw.Flush()
}
