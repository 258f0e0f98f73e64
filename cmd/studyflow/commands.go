package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"studyflow/internal/app"
	"studyflow/internal/chat"
	"studyflow/internal/models"
	"studyflow/internal/retrieval"
	"studyflow/internal/slides"
	"studyflow/internal/util"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var runAll, skipSlides bool
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>...",
		Short: "Register PDFs as books",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				for _, path := range args {
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					book, created, err := a.Runner.Ingest(ctx, filepath.Base(path), f)
					_ = f.Close()
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					state := "created"
					if !created {
						state = "exists"
					}
					fmt.Fprintf(out, "%s\t%s\t%s\n", book.BookID, state, book.Title)
					if runAll {
						results, err := a.Runner.RunAll(ctx, book.BookID, skipSlides)
						printResults(cmd, results)
						if err != nil {
							return err
						}
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&runAll, "run", false, "run every stage after ingesting")
	cmd.Flags().BoolVar(&skipSlides, "skip-slides", false, "skip slide generation when --run is set")
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var skipSlides bool
	cmd := &cobra.Command{
		Use:   "run <book-id> [stage]",
		Short: "Run one stage, or every stage in order",
		Long: "Stages: " + stageNames() + `.
Without a stage every stage runs in order and the first failure stops the run.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if len(args) == 1 {
					results, err := a.Runner.RunAll(ctx, args[0], skipSlides)
					printResults(cmd, results)
					return err
				}
				stage, ok := models.ParseStage(args[1])
				if !ok {
					return fmt.Errorf("%w: %q (want one of %s)", util.ErrInvalidStage, args[1], stageNames())
				}
				res, err := a.Runner.RunStage(ctx, args[0], stage)
				if err != nil {
					return err
				}
				printResults(cmd, []models.StageResult{res})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&skipSlides, "skip-slides", false, "skip slide generation")
	return cmd
}

func stageNames() string {
	names := make([]string, 0, len(models.Stages))
	for _, st := range models.Stages {
		names = append(names, string(st))
	}
	return strings.Join(names, ", ")
}

func printResults(cmd *cobra.Command, results []models.StageResult) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tCOUNT\tCOMPLETE\tWARNINGS")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%d\n", r.Stage, r.Count, r.Completed, len(r.Warnings))
	}
	_ = tw.Flush()
	for _, r := range results {
		for _, w := range r.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", r.Stage, w)
		}
	}
}

func newBooksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "books",
		Short: "List books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				books, err := a.Books.ListBooks(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "BOOK\tPAGES\tTITLE")
				for _, b := range books {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", b.BookID, b.PageCount, b.Title)
				}
				return tw.Flush()
			})
		},
	}
}

func newTocCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toc <book-id>",
		Short: "Show the table of contents and resolved chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				toc, err := a.Content.ListToc(ctx, args[0])
				if err != nil {
					return err
				}
				chapters, err := a.Content.ListChapters(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range toc {
					fmt.Fprintf(out, "%s%s  (p.%d)\n", strings.Repeat("  ", e.Level), e.Title, e.TargetPage)
				}
				if len(chapters) > 0 {
					fmt.Fprintln(out)
				}
				for _, c := range chapters {
					fmt.Fprintf(out, "chapter %d  pages %d-%d  %s\n", c.Ordinal, c.StartPage, c.EndPage, c.Title)
				}
				return nil
			})
		},
	}
}

func newSegmentsCmd(opts *rootOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "segments <book-id>",
		Short: "List a book's segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				segs, err := a.Content.ListSegments(ctx, args[0])
				if err != nil {
					return err
				}
				if full {
					return printJSON(cmd.OutOrStdout(), segs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SEGMENT\tCHARS\tHEADING")
				for _, s := range segs {
					fmt.Fprintf(tw, "%s\t%d\t%s\n", s.SegmentID, len([]rune(s.Body)), s.HeadingTitle)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "print segments with bodies as JSON")
	return cmd
}

func newSlidesCmd(opts *rootOptions) *cobra.Command {
	var format string
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "slides <segment-id>",
		Short: "Print a segment's slide deck",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var deck models.SlideDeck
				var err error
				if regenerate {
					deck, err = a.Runner.RegenerateDeck(ctx, args[0])
				} else {
					deck, err = a.Content.GetDeck(ctx, args[0])
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch format {
				case "json":
					return printJSON(out, deck)
				case "html":
					html, err := slides.RenderHTML(deck)
					if err != nil {
						return err
					}
					_, err = fmt.Fprint(out, html)
					return err
				default:
					_, err = fmt.Fprint(out, slides.RenderMarkdown(deck))
					return err
				}
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown, html or json")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "generate a fresh deck first")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var bookID string
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the segments most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				q := retrieval.Query{Text: strings.Join(args, " "), TopK: topK, BookID: bookID}
				hits, err := a.Retriever.Retrieve(ctx, q)
				if err != nil {
					return err
				}
				results, err := retrieval.Describe(ctx, a.Content, q.Text, hits)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "no results")
					return nil
				}
				for i, r := range results {
					fmt.Fprintf(out, "%d. [%.3f] %s  %s\n   %s\n", i+1, r.Score, r.SegmentID, r.HeadingTitle, r.Snippet)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "restrict to one book")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var sessionID, bookID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question, optionally continuing a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				sid := sessionID
				if sid == "" {
					sid = chat.NewSessionID()
					if err := a.Chats.CreateSession(ctx, sid); err != nil {
						return err
					}
				}
				reply, err := a.Chat.Submit(ctx, chat.Turn{SessionID: sid, Text: strings.Join(args, " "), BookID: bookID})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, reply.Answer)
				if len(reply.CitedSegmentRefs) > 0 {
					fmt.Fprintf(out, "\nsources: %s\n", strings.Join(reply.CitedSegmentRefs, ", "))
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "session: %s\n", sid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().StringVar(&bookID, "book", "", "restrict retrieval to one book")
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				turns, err := a.Chat.History(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, t := range turns {
					fmt.Fprintf(out, "[%d] %s: %s\n", t.Seq, t.Role, t.Text)
				}
				return nil
			})
		},
	}
}

func newReindexCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Retry embedding for stale vector records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				rep, err := a.Runner.ReindexStale(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "embedded=%d reused=%d stale=%d\n", rep.Embedded, rep.Reused, rep.Stale)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "maximum records to retry")
	return cmd
}

func newUsageCmd(opts *rootOptions) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "usage [book-id]",
		Short: "Summarize provider calls from the audit log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if a.Audit == nil {
					return fmt.Errorf("usage needs postgres storage")
				}
				bookID := ""
				if len(args) == 1 {
					bookID = args[0]
				}
				usage, err := a.Audit.Usage(ctx, bookID, time.Now().Add(-since))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "OPERATION\tPROVIDER\tSTATUS\tCALLS\tAVG")
				for _, u := range usage {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", u.Operation, u.ProviderName, u.Status, u.Calls, u.AvgLatency)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	return cmd
}
