package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragchat/internal/adapter/store"
	"ragchat/internal/usecase"
)

var indexRebuild bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or load the vector index",
	Long: `Load the persisted index if it matches the current configuration,
otherwise read the corpus, chunk it, embed every chunk and persist a new index.

Examples:
  ragchat index              # Load or build
  ragchat index --rebuild    # Always rebuild from the corpus`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild", false, "rebuild even if a usable index exists")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	progress := newEmbedProgress()

	p, err := newPipeline(cfg, GetRootDir(), GetLogger(), nil, usecase.WithProgress(progress.update))
	if err != nil {
		return err
	}

	fmt.Printf("Corpus: %s\n", cfg.Corpus.Dir)

	var (
		res *usecase.IndexResult
		idx *store.VectorIndex
	)
	if indexRebuild {
		idx, res, err = p.builder.Rebuild(cmd.Context(), p.loader)
	} else {
		idx, res, err = p.builder.LoadOrBuild(cmd.Context(), p.loader)
	}
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Println()
	if res.Built {
		fmt.Printf("Index built")
		if res.Reason != "" {
			fmt.Printf(" (%s)", res.Reason)
		}
		fmt.Println(":")
		fmt.Printf("  Documents: %d\n", res.Documents)
		fmt.Printf("  Chunks:    %d\n", res.Entries)
		fmt.Printf("  Took:      %s\n", formatDuration(res.Duration))
	} else {
		fmt.Printf("Existing index loaded: %d chunks\n", idx.Len())
	}
	fmt.Printf("\nIndex stored at: %s\n", p.storage.Path())
	return nil
}

// embedProgress renders embedding progress, created once the chunk count
// is known.
type embedProgress struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	start time.Time
}

func newEmbedProgress() *embedProgress {
	return &embedProgress{}
}

func (p *embedProgress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil {
		p.start = time.Now()
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
	}

	_ = p.bar.Set(done)

	if done > 0 && done < total {
		rate := float64(done) / time.Since(p.start).Seconds()
		if rate > 0 {
			eta := time.Duration(float64(total-done)/rate) * time.Second
			p.bar.Describe(fmt.Sprintf("[cyan]Embedding[reset] ETA: %s", formatDuration(eta)))
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
