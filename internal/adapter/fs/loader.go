package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragchat/internal/domain"
)

// ErrPDFToolNotFound is returned when PDF extraction is needed but the
// extraction binary is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")

// CommandRunner runs an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Loader reads the corpus directory into documents.
// Plain text and markdown are read as is; PDFs go through pdftotext.
type Loader struct {
	root    string
	walker  *Walker
	pdfTool string
	runner  CommandRunner
	logger  *zap.Logger
	now     func() time.Time
}

type LoaderOption func(*Loader)

func WithCommandRunner(r CommandRunner) LoaderOption {
	return func(l *Loader) { l.runner = r }
}

func WithPDFTool(name string) LoaderOption {
	return func(l *Loader) {
		if name != "" {
			l.pdfTool = name
		}
	}
}

func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLoader(root string, walker *Walker, opts ...LoaderOption) *Loader {
	l := &Loader{
		root:    root,
		walker:  walker,
		pdfTool: "pdftotext",
		runner:  execRunner{},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Documents enumerates and reads every matching file. Files that cannot be
// read are logged and skipped; a missing corpus directory is an error.
func (l *Loader) Documents(ctx context.Context) ([]domain.Document, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return nil, fmt.Errorf("%w: corpus directory: %v", domain.ErrConfiguration, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: corpus path is not a directory: %s", domain.ErrConfiguration, l.root)
	}

	files, err := l.walker.Walk(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk corpus: %w", err)
	}

	docs := make([]domain.Document, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := l.read(ctx, file)
		if err != nil {
			l.logger.Warn("skipping unreadable document",
				zap.String("path", file.RelPath),
				zap.Error(err),
			)
			continue
		}

		docs = append(docs, domain.Document{
			ID:       file.RelPath,
			Path:     file.Path,
			Text:     text,
			LoadedAt: l.now(),
		})
	}

	l.logger.Info("corpus loaded",
		zap.String("root", l.root),
		zap.Int("files", len(files)),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}

func (l *Loader) read(ctx context.Context, file FileInfo) (string, error) {
	if strings.EqualFold(filepath.Ext(file.Path), ".pdf") {
		return l.extractPDF(ctx, file.Path)
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *Loader) extractPDF(ctx context.Context, path string) (string, error) {
	if _, ok := l.runner.(execRunner); ok {
		if _, err := exec.LookPath(l.pdfTool); err != nil {
			return "", ErrPDFToolNotFound
		}
	}
	out, err := l.runner.Run(ctx, l.pdfTool, "-enc", "UTF-8", "-layout", path, "-")
	if err != nil {
		return "", fmt.Errorf("pdf extraction failed: %w", err)
	}
	return string(out), nil
}
