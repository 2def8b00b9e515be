package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ragchat/internal/domain"
)

var (
	retrieveText string
	retrieveTopK int
	retrieveJSON bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Show the chunks a question retrieves",
	Long: `Embed the query and print the nearest chunks from the index, without
calling the language model. Builds the index first if none is usable.

Examples:
  ragchat retrieve -q "insulin resistance"
  ragchat retrieve -q "HbA1c target" -k 10 --json`,
	Args: cobra.NoArgs,
	RunE: runRetrieve,
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
	retrieveCmd.Flags().StringVarP(&retrieveText, "query", "q", "", "search query (required)")
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 0, "number of results (default from config)")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output as JSON")
	retrieveCmd.MarkFlagRequired("query")
}

// RetrieveResult is one line of retrieve output.
type RetrieveResult struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Start      int     `json:"start"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := newPipeline(cfg, GetRootDir(), GetLogger(), nil)
	if err != nil {
		return err
	}

	idx, _, err := p.builder.LoadOrBuild(cmd.Context(), p.loader)
	if err != nil {
		return err
	}

	topK := cfg.Retrieve.TopK
	if retrieveTopK > 0 {
		topK = retrieveTopK
	}

	chunks, err := p.retriever.Retrieve(cmd.Context(), idx, retrieveText, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if !retrieveJSON {
		fmt.Printf("Found %d results for: %s\n\n", len(chunks), retrieveText)
		printChunks(os.Stdout, chunks)
		printQuality(os.Stdout, chunks)
		return nil
	}

	results := make([]RetrieveResult, len(chunks))
	for i, c := range chunks {
		results[i] = RetrieveResult{
			DocumentID: c.Chunk.DocID,
			ChunkIndex: c.Chunk.Index,
			Start:      c.Chunk.Start,
			Score:      c.Score,
			Text:       c.Chunk.Text,
		}
	}
	output, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

// similarityRating buckets a cosine similarity for display.
func similarityRating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func printQuality(out io.Writer, chunks []domain.ScoredChunk) {
	if len(chunks) == 0 {
		return
	}
	total := 0.0
	for _, c := range chunks {
		total += c.Score
	}
	avg := total / float64(len(chunks))

	fmt.Fprintln(out, strings.Repeat("=", 70))
	fmt.Fprintln(out, "QUALITY:")
	fmt.Fprintf(out, "  Top-1 similarity:   %.3f (%s)\n", chunks[0].Score, similarityRating(chunks[0].Score))
	fmt.Fprintf(out, "  Average similarity: %.3f (%s)\n", avg, similarityRating(avg))
}
