package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"studyflow/internal/app"
	"studyflow/internal/config"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "studyflow",
		Short: "Turn textbooks into segmented study material",
		Long: `studyflow ingests textbook PDFs, splits them into chapters and
sections, generates slide decks, indexes the sections for search and answers
questions over them. Commands run the pipeline in this process.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to the console")

	root.AddCommand(
		newIngestCmd(opts),
		newRunCmd(opts),
		newBooksCmd(opts),
		newTocCmd(opts),
		newSegmentsCmd(opts),
		newSlidesCmd(opts),
		newSearchCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newReindexCmd(opts),
		newUsageCmd(opts),
	)
	return root
}

// withApp loads configuration, builds the services and runs fn with them.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	_ = godotenv.Load(".env")
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	cfg.Executor = "inline"
	cfg.Log.Console = opts.verbose
	app.InitLogger(cfg.Log)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
