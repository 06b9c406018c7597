package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/fwcache/internal/ingest"
)

type ingestFlags struct {
	includes []string
	excludes []string
	urls     []string
	title    string
	quiet    bool
}

func newIngestCmd(e *env) *cobra.Command {
	var f ingestFlags

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Add files, directories or URLs to the knowledge base",
		Long: `Reads text, markdown, HTML, JSON, YAML and CSV files and adds them to the
knowledge base. Directories are walked with --include/--exclude globs.
Re-ingesting unchanged content is a no-op.

Examples:
  fwrag ingest guides/cis.md
  fwrag ingest docs/ --include "**/*.md" --exclude "drafts/**"
  fwrag ingest --url https://example.com/nist-800-41`,
		Annotations: needsKB,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(f.urls) == 0 {
				return errors.New("nothing to ingest: pass paths or --url")
			}
			return runIngest(cmd, e, args, f)
		},
	}

	cmd.Flags().StringSliceVar(&f.includes, "include", nil, `glob for files inside directories (default "**/*")`)
	cmd.Flags().StringSliceVar(&f.excludes, "exclude", nil, "glob to skip inside directories")
	cmd.Flags().StringSliceVar(&f.urls, "url", nil, "URL to fetch and ingest (repeatable)")
	cmd.Flags().StringVar(&f.title, "title", "", "title for a single file or URL")
	cmd.Flags().BoolVar(&f.quiet, "quiet", false, "disable the progress bar")
	return cmd
}

type ingestSummary struct {
	added  int
	failed int
}

func runIngest(cmd *cobra.Command, e *env, args []string, f ingestFlags) error {
	kb, err := e.knowledge()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	paths, err := expandPaths(args, f.includes, f.excludes)
	if err != nil {
		return err
	}

	var sum ingestSummary
	add := func(res ingest.Result) {
		id, err := kb.AddDocument(ctx, res.Source, res.SourceType, res.Title, res.Content, res.Metadata)
		if err != nil {
			sum.failed++
			fmt.Fprintf(out, "  failed  %s: %v\n", res.Source, err)
			return
		}
		sum.added++
		fmt.Fprintf(out, "  added   %s -> %s\n", res.Source, id)
	}

	if len(paths) > 0 {
		bar := newBar(cmd.ErrOrStderr(), len(paths), f.quiet)
		outcomes, err := e.ingester.IngestFiles(ctx, paths, func(ingest.FileOutcome) { _ = bar.Add(1) })
		_ = bar.Finish()
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.Err != nil {
				sum.failed++
				fmt.Fprintf(out, "  skipped %s: %v\n", o.Path, o.Err)
				continue
			}
			if f.title != "" && len(paths) == 1 {
				o.Result.Title = f.title
			}
			add(o.Result)
		}
	}

	for _, u := range f.urls {
		title := ""
		if len(f.urls) == 1 && len(paths) == 0 {
			title = f.title
		}
		res, err := e.ingester.IngestURL(ctx, u, title)
		if err != nil {
			sum.failed++
			fmt.Fprintf(out, "  skipped %s: %v\n", u, err)
			continue
		}
		add(res)
	}

	fmt.Fprintf(out, "\nIngestion complete: %d added, %d failed\n", sum.added, sum.failed)
	if sum.added == 0 && sum.failed > 0 {
		return errors.New("no documents ingested")
	}
	return nil
}

// expandPaths keeps files as given and walks directories.
func expandPaths(args, includes, excludes []string) ([]string, error) {
	var paths []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, fmt.Errorf("path %s: %w", a, err)
		}
		if !info.IsDir() {
			paths = append(paths, a)
			continue
		}
		files, err := ingest.Walk(a, includes, excludes)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	return paths, nil
}

func newBar(w io.Writer, total int, quiet bool) *progressbar.ProgressBar {
	if quiet {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Reading[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}
