package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/fwcache/internal/domain"
)

func newListCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "list",
		Short:       "List ingested documents",
		Annotations: needsKB,
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kb, err := e.knowledge()
			if err != nil {
				return err
			}
			docs := kb.ListDocuments()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, docs)
			}
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tCHUNKS\tCREATED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					d.ID, d.Title, d.SourceType, d.ChunkCount, d.CreatedAt.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:         "delete <id>",
		Short:       "Remove a document and its chunks",
		Annotations: needsKB,
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := e.knowledge()
			if err != nil {
				return err
			}
			ok, err := kb.DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			if !ok {
				return fmt.Errorf("delete %s: %w", args[0], domain.ErrDocumentNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:         "stats",
		Short:       "Print knowledge base statistics as JSON",
		Annotations: needsKB,
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kb, err := e.knowledge()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), kb.Stats())
		},
	}
}

// IsNotFound reports whether a command failed on an unknown document id.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrDocumentNotFound)
}
