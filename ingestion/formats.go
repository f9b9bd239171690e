// Package ingestion turns crawled pages and downloaded documents into
// embedded chunks and builds the search index from them.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates supported document payload formats.
type DocumentFormat string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown DocumentFormat = ""
	// FormatPage is a page record written by the crawler.
	FormatPage DocumentFormat = "page"
	FormatPDF  DocumentFormat = "pdf"
	FormatDOCX DocumentFormat = "docx"
	// FormatDOC is the legacy binary Word format. It is recognised so it can
	// be reported, but no text is extracted from it.
	FormatDOC DocumentFormat = "doc"
)

// DetectFormat infers a document format from the provided path's extension.
func DetectFormat(path string) DocumentFormat {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return FormatPage
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".doc":
		return FormatDOC
	default:
		return FormatUnknown
	}
}
