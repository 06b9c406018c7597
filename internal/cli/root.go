// Package cli is the fwrag command line: ingest, search and manage the
// knowledge base the ops server reads.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/fwcache/internal/app"
	"github.com/kailas-cloud/fwcache/internal/config"
	domrag "github.com/kailas-cloud/fwcache/internal/domain/rag"
	"github.com/kailas-cloud/fwcache/internal/ingest"
	logpkg "github.com/kailas-cloud/fwcache/internal/logger"
	"github.com/kailas-cloud/fwcache/internal/usecase/rag"
	"github.com/kailas-cloud/fwcache/internal/version"
)

// KnowledgeBase is what the commands need from rag.Store.
type KnowledgeBase interface {
	AddDocument(ctx context.Context, source string, sourceType domrag.SourceType,
		title, content string, metadata map[string]any) (string, error)
	GetDocument(id string) (domrag.Document, error)
	ListDocuments() []domrag.DocumentInfo
	DeleteDocument(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, query string, limit int, minScore float32) ([]domrag.SearchResult, error)
	Stats() rag.Stats
}

// Opener builds the knowledge base for one invocation. The returned func
// releases it.
type Opener func(ctx context.Context, opts Options) (KnowledgeBase, func(), error)

// Options are the persistent flags.
type Options struct {
	Env        string
	ConfigPath string
}

type env struct {
	opts     Options
	open     Opener
	kb       KnowledgeBase
	close    func()
	ingester *ingest.Ingester
}

// NewRootCmd builds the command tree. A nil opener uses DefaultOpener.
// The returned func releases whatever the executed command opened.
func NewRootCmd(open Opener) (*cobra.Command, func()) {
	if open == nil {
		open = DefaultOpener
	}
	e := &env{open: open, ingester: ingest.New()}

	root := &cobra.Command{
		Use:   "fwrag",
		Short: "Manage the firewall audit knowledge base",
		Long: `fwrag ingests reference documents (benchmarks, vendor guides, internal
policies) into the knowledge base the audit service searches.

Example usage:
  fwrag ingest docs/ --include "**/*.md"
  fwrag ingest --url https://example.com/hardening-guide
  fwrag search -q "restrict inbound ssh"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationKB] == "" {
				return nil
			}
			kb, closeFn, err := e.open(cmd.Context(), e.opts)
			if err != nil {
				return err
			}
			e.kb, e.close = kb, closeFn
			return nil
		},
	}

	root.PersistentFlags().StringVar(&e.opts.Env, "env", config.GetEnv(), "environment selecting config/<env>.yaml")
	root.PersistentFlags().StringVar(&e.opts.ConfigPath, "config", "", "config file (overrides --env)")

	root.AddCommand(
		newIngestCmd(e),
		newSearchCmd(e),
		newListCmd(e),
		newDeleteCmd(e),
		newStatsCmd(e),
		newVersionCmd(),
	)
	return root, e.release
}

func (e *env) release() {
	if e.close != nil {
		e.close()
		e.close = nil
	}
}

// DefaultOpener loads configuration and restores the knowledge base from the
// configured backend. Without a backend nothing would outlive the process.
func DefaultOpener(ctx context.Context, opts Options) (KnowledgeBase, func(), error) {
	var (
		cfg config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFile(opts.ConfigPath)
	} else {
		cfg, err = config.Load(opts.Env)
	}
	if err != nil {
		return nil, nil, err
	}
	if cfg.Persistence.Driver == config.DriverNone || cfg.Persistence.Driver == config.DriverMemory {
		return nil, nil, fmt.Errorf("persistence.driver %q keeps nothing between runs; use bolt or redis",
			cfg.Persistence.Driver)
	}

	logEnv := opts.Env
	if logEnv == "" {
		logEnv = "local"
	}
	logger, err := logpkg.NewLogger(logEnv, cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Knowledge, func() {
		a.Close()
		_ = logger.Sync()
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fwrag %s\n", version.String())
		},
	}
}

// annotationKB marks commands that open the knowledge base before running.
const annotationKB = "fwrag/kb"

var needsKB = map[string]string{annotationKB: "true"}

var errNoKnowledgeBase = errors.New("knowledge base not opened")

func (e *env) knowledge() (KnowledgeBase, error) {
	if e.kb == nil {
		return nil, errNoKnowledgeBase
	}
	return e.kb, nil
}
