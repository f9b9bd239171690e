package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Loaded is the result of LoadAll.
type Loaded struct {
	Documents []Document
	// Skipped lists files that could not be turned into a document.
	Skipped []string
}

// Loader reads crawl output from disk. A bad file is logged and skipped; it
// never fails the whole load.
type Loader struct {
	logger *log.Logger
}

func NewLoader(logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{logger: logger}
}

// LoadAll reads page records from pagesDir, then documents from filesDir.
// Missing directories are treated as empty.
func (l *Loader) LoadAll(ctx context.Context, pagesDir, filesDir string) (Loaded, error) {
	var out Loaded
	for i, dir := range []string{pagesDir, filesDir} {
		if dir == "" {
			continue
		}
		if err := l.loadDir(ctx, dir, i == 0, &out); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (l *Loader) loadDir(ctx context.Context, dir string, pages bool, out *Loaded) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Printf("skip missing directory %s", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		format := DetectFormat(name)
		if pages != (format == FormatPage) {
			continue
		}
		parser := ParserFor(format)
		if parser == nil {
			continue
		}

		path := filepath.Join(dir, name)
		doc, err := l.parseFile(ctx, parser, path)
		if err != nil {
			l.logger.Printf("skip %s: %v", path, err)
			out.Skipped = append(out.Skipped, path)
			continue
		}
		if strings.TrimSpace(doc.Text) == "" {
			l.logger.Printf("skip empty document %s", path)
			out.Skipped = append(out.Skipped, path)
			continue
		}
		out.Documents = append(out.Documents, doc)
	}
	return nil
}

func (l *Loader) parseFile(ctx context.Context, parser DocumentParser, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}
	return parser.Parse(ctx, DocumentPayload{Path: path, Data: data})
}
