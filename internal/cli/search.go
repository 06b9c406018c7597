package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

const snippetRunes = 160

func newSearchCmd(e *env) *cobra.Command {
	var (
		query    string
		limit    int
		minScore float32
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the knowledge base",
		Long: `Embeds the query and returns the best matching chunk of each document,
ordered by cosine similarity.`,
		Annotations: needsKB,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(query) == "" {
				return errors.New("query is required (-q)")
			}
			kb, err := e.knowledge()
			if err != nil {
				return err
			}

			results, err := kb.Search(cmd.Context(), query, limit, minScore)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "[%d] %s (%.3f, %s)\n", i+1, r.Document.Title, r.Score, r.Relevance)
				fmt.Fprintf(out, "    %s  chunk %d\n", r.Document.Source, r.Chunk.Index)
				fmt.Fprintf(out, "    %s\n\n", snippet(r.Chunk.Content))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "search text")
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of documents")
	cmd.Flags().Float32Var(&minScore, "min-score", 0, "drop matches below this similarity")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > snippetRunes {
		return string(r[:snippetRunes]) + "..."
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
