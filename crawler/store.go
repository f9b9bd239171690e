package crawler

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store persists crawl output under a pages directory and a files directory.
type Store struct {
	PagesDir string
	FilesDir string
}

func NewStore(pagesDir, filesDir string) (*Store, error) {
	for _, dir := range []string{pagesDir, filesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create crawl dir %s: %w", dir, err)
		}
	}
	return &Store{PagesDir: pagesDir, FilesDir: filesDir}, nil
}

// PageFilename is the deterministic file name for a page URL.
func PageFilename(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:]) + ".json"
}

// SavePage writes rec as JSON, replacing any earlier record for the same URL.
func (s *Store) SavePage(rec PageRecord) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode page %s: %w", rec.URL, err)
	}
	target := filepath.Join(s.PagesDir, PageFilename(rec.URL))
	if err := writeFileAtomic(target, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return "", fmt.Errorf("save page %s: %w", rec.URL, err)
	}
	return target, nil
}

// SaveFile streams body to a file named after the last path segment of
// rawURL.
func (s *Store) SaveFile(rawURL string, body io.Reader) (FileRecord, error) {
	target := filepath.Join(s.FilesDir, FileName(rawURL))
	if err := writeFileAtomic(target, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	}); err != nil {
		return FileRecord{}, fmt.Errorf("save file %s: %w", rawURL, err)
	}
	return FileRecord{LocalPath: target, SourceURL: rawURL}, nil
}

// FileName derives the local name for a downloaded document. URLs whose
// path has no usable base name fall back to a hash of the URL.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err == nil {
		base := path.Base(u.Path)
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
		base = strings.Map(func(r rune) rune {
			if r == '/' || r == '\\' || r == 0 {
				return '_'
			}
			return r
		}, base)
		if base != "" && base != "." && base != "/" && base != "_" && base != ".." {
			return base
		}
	}
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

// ReadPage loads a page record written by SavePage.
func ReadPage(file string) (PageRecord, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return PageRecord{}, fmt.Errorf("read page %s: %w", file, err)
	}
	var rec PageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return PageRecord{}, fmt.Errorf("decode page %s: %w", file, err)
	}
	return rec, nil
}

func writeFileAtomic(target string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}
