package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/visacoach/crawler"
)

var errUnsupportedFormat = errors.New("unsupported document format")

type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (Document, error)
}

// ParserFor returns the parser for format, or nil when the format is not
// handled at all.
func ParserFor(format DocumentFormat) DocumentParser {
	switch format {
	case FormatPage:
		return pageParser{}
	case FormatPDF:
		return pdfParser{}
	case FormatDOCX:
		return docxParser{}
	case FormatDOC:
		return docParser{}
	default:
		return nil
	}
}

type pageParser struct{}

func (pageParser) Parse(_ context.Context, payload DocumentPayload) (Document, error) {
	var rec crawler.PageRecord
	if err := json.Unmarshal(payload.Data, &rec); err != nil {
		return Document{}, &ParseError{Path: payload.Path, Err: err}
	}
	if rec.URL == "" {
		return Document{}, &ParseError{Path: payload.Path, Err: errors.New("page record has no url")}
	}
	return Document{Text: rec.Content, Source: rec.URL, Title: rec.Title}, nil
}

type pdfParser struct{}

// Parse extracts text page by page. Pages are joined by a blank line so the
// splitter can break between them.
func (pdfParser) Parse(_ context.Context, payload DocumentPayload) (doc Document, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = &ParseError{Path: payload.Path, Err: fmt.Errorf("read pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return Document{}, &ParseError{Path: payload.Path, Err: fmt.Errorf("open pdf: %w", err)}
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Document{}, &ParseError{Path: payload.Path, Err: fmt.Errorf("extract pdf page %d: %w", i, err)}
		}
		if text = strings.TrimSpace(normalizePlainText(text)); text != "" {
			pages = append(pages, text)
		}
	}

	return Document{
		Text:   strings.Join(pages, "\n\n"),
		Source: payload.Path,
		Title:  baseTitle(payload.Path),
	}, nil
}

type docxParser struct{}

func (docxParser) Parse(_ context.Context, payload DocumentPayload) (Document, error) {
	archive, err := zip.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return Document{}, &ParseError{Path: payload.Path, Err: fmt.Errorf("open docx: %w", err)}
	}

	body, err := readZipEntry(archive, "word/document.xml")
	if err != nil {
		return Document{}, &ParseError{Path: payload.Path, Err: err}
	}
	var wordDoc docxDocument
	if err := xml.Unmarshal(body, &wordDoc); err != nil {
		return Document{}, &ParseError{Path: payload.Path, Err: fmt.Errorf("decode document.xml: %w", err)}
	}

	paragraphs := make([]string, 0, len(wordDoc.Body.Paragraphs))
	for _, para := range wordDoc.Body.Paragraphs {
		var b strings.Builder
		for _, r := range para.Runs {
			for _, t := range r.Text {
				b.WriteString(t.Content)
			}
		}
		paragraphs = append(paragraphs, b.String())
	}

	title := baseTitle(payload.Path)
	if core, err := readZipEntry(archive, "docProps/core.xml"); err == nil {
		var props docxCore
		if xml.Unmarshal(core, &props) == nil && strings.TrimSpace(props.Title) != "" {
			title = strings.TrimSpace(props.Title)
		}
	}

	return Document{
		Text:   strings.TrimSpace(strings.Join(paragraphs, "\n")),
		Source: payload.Path,
		Title:  title,
	}, nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

type docxCore struct {
	Title string `xml:"title"`
}

type docParser struct{}

func (docParser) Parse(_ context.Context, payload DocumentPayload) (Document, error) {
	return Document{}, &ParseError{Path: payload.Path, Err: errUnsupportedFormat}
}

func readZipEntry(archive *zip.Reader, name string) ([]byte, error) {
	for _, file := range archive.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s not found", name)
}

func baseTitle(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
