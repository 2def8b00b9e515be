package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ragchat/internal/adapter/analyzer"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var (
	askQuestion string
	askSession  string
	askDryRun   bool
	askSources  bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask questions about the corpus",
	Long: `Answer a single question with -q, or start an interactive console where
each line is a question in the same conversation. Type quit, exit or q to leave.

--dry-run prints the assembled prompt and the retrieved chunks without
calling the language model.

Examples:
  ragchat ask
  ragchat ask -q "How is type 2 diabetes managed?"
  ragchat ask -q "What about exercise?" --dry-run`,
	Args: cobra.NoArgs,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "ask one question and exit")
	askCmd.Flags().StringVar(&askSession, "session", "", "conversation session id (default from config)")
	askCmd.Flags().BoolVar(&askDryRun, "dry-run", false, "print the prompt instead of calling the language model")
	askCmd.Flags().BoolVar(&askSources, "sources", false, "print the documents each answer drew on")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := newPipeline(cfg, GetRootDir(), GetLogger(), nil)
	if err != nil {
		return err
	}

	var completer port.Completer
	if !askDryRun {
		completer, err = newCompleter(cfg.Completion)
		if err != nil {
			return err
		}
	}
	orch, err := p.orchestrator(completer)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := orch.Initialize(ctx); err != nil {
		return err
	}
	defer orch.Shutdown(context.Background())

	if askDryRun {
		if askQuestion == "" {
			return fmt.Errorf("--dry-run needs a question (-q)")
		}
		prompt, chunks, err := orch.Preview(ctx, askSession, askQuestion)
		if err != nil {
			return err
		}
		printChunks(os.Stdout, chunks)
		fmt.Printf("--- prompt (~%d tokens) ---\n", analyzer.NewTokenizer().CountTokens(prompt))
		fmt.Println(prompt)
		return nil
	}

	c := &console{asker: orch, sessionID: askSession, showSources: askSources}
	if askQuestion != "" {
		return c.askOnce(ctx, os.Stdout, askQuestion)
	}
	return c.loop(ctx, os.Stdin, os.Stdout)
}

// asker is the part of the orchestrator the console needs.
type asker interface {
	Ask(ctx context.Context, sessionID, question string) (domain.Answer, error)
}

type console struct {
	asker       asker
	sessionID   string
	showSources bool
}

func isQuitWord(s string) bool {
	switch strings.ToLower(s) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

// loop reads questions line by line until a quit word or EOF. A failed
// question is reported and the loop continues.
func (c *console) loop(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "Ask about the documents. Type 'quit' to exit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isQuitWord(line) {
			fmt.Fprintln(out, "Goodbye.")
			return nil
		}
		if err := c.askOnce(ctx, out, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func (c *console) askOnce(ctx context.Context, out io.Writer, question string) error {
	ans, err := c.asker.Ask(ctx, c.sessionID, question)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Assistant: %s\n", ans.Text)
	if c.showSources {
		for _, s := range ans.Sources {
			fmt.Fprintf(out, "  [%s #%d] score %.3f\n", s.DocumentID, s.ChunkIndex, s.Score)
		}
	}
	return nil
}

func printChunks(out io.Writer, chunks []domain.ScoredChunk) {
	if len(chunks) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}
	for i, c := range chunks {
		fmt.Fprintf(out, "--- [%d] %s #%d (score: %.3f) ---\n", i+1, c.Chunk.DocID, c.Chunk.Index, c.Score)
		text := c.Chunk.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Fprintln(out, text)
		fmt.Fprintln(out)
	}
}
