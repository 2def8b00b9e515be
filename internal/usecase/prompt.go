package usecase

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"ragchat/internal/domain"
)

//go:embed prompts/diabetes.txt
var defaultTemplate string

// DefaultTemplate returns the built-in diabetes-care assistant prompt.
func DefaultTemplate() string {
	return defaultTemplate
}

// PromptAssembler renders retrieved context, recent history and the
// question into a template with {context}, {chat_history} and {question}
// placeholders.
type PromptAssembler struct {
	template string
	maxTurns int
}

// NewPromptAssembler validates template (empty selects the default).
// maxTurns bounds the rendered history; 0 renders every turn given.
func NewPromptAssembler(template string, maxTurns int) (*PromptAssembler, error) {
	if template == "" {
		template = defaultTemplate
	}
	if !strings.Contains(template, "{question}") {
		return nil, fmt.Errorf("%w: prompt template has no {question} placeholder", domain.ErrConfiguration)
	}
	if maxTurns < 0 {
		return nil, fmt.Errorf("%w: max prompt turns must not be negative", domain.ErrConfiguration)
	}
	return &PromptAssembler{template: template, maxTurns: maxTurns}, nil
}

// LoadTemplate reads a template file. An empty path selects the default.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: prompt template: %v", domain.ErrConfiguration, err)
	}
	return string(data), nil
}

// Assemble is pure: the same inputs always produce the same prompt.
// Placeholders are substituted in one pass, so braces inside the question
// or the documents are never expanded.
func (p *PromptAssembler) Assemble(chunks []domain.ScoredChunk, history []domain.Turn, question string) string {
	r := strings.NewReplacer(
		"{context}", renderContext(chunks),
		"{chat_history}", p.renderHistory(history),
		"{question}", question,
	)
	return r.Replace(p.template)
}

func renderContext(chunks []domain.ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Chunk.Text
	}
	return strings.Join(parts, "\n\n")
}

func (p *PromptAssembler) renderHistory(history []domain.Turn) string {
	if p.maxTurns > 0 && len(history) > p.maxTurns {
		history = history[len(history)-p.maxTurns:]
	}
	var sb strings.Builder
	for i, t := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("Human: ")
		sb.WriteString(t.Question)
		sb.WriteString("\nAssistant: ")
		sb.WriteString(t.Answer)
	}
	return sb.String()
}
