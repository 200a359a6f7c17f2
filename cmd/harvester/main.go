package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	_ "github.com/aluiziolira/go-scrape-catalogs/sources/all"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	stateDir   string
	outputDir  string
	format     string
	backend    string
	verbose    bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable supermarket catalog harvester",
		Long: `harvester pages through the product catalogs of Dutch supermarkets,
checkpointing progress so an interrupted run continues where it stopped.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file (optional)")
	flags.StringVar(&opts.stateDir, "state-dir", "", "checkpoint directory")
	flags.StringVar(&opts.outputDir, "output-dir", "", "output directory")
	flags.StringVar(&opts.format, "format", "", "output format: json, csv, or dual")
	flags.StringVar(&opts.backend, "backend", "", "checkpoint backend: file or sqlite")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(opts), newStatusCmd(opts), newResetCmd(opts), newSourcesCmd())
	return root
}

// loadConfig layers defaults, the config file, HARVEST_* variables and flags,
// in that order, and installs the process logger.
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("state-dir") {
		cfg.StateDir = opts.stateDir
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = opts.outputDir
	}
	if flags.Changed("format") {
		cfg.OutputFormat = strings.ToLower(opts.format)
	}
	if flags.Changed("backend") {
		cfg.CheckpointBackend = opts.backend
	}
	if opts.verbose {
		cfg.Verbose = true
	}

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
