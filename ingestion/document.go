package ingestion

import "fmt"

// Document is one normalised unit of source text. Source is the page URL for
// crawled pages and the local path for downloaded files.
type Document struct {
	Text   string
	Source string
	Title  string
}

// DocumentPayload is the raw content of a file handed to a parser.
type DocumentPayload struct {
	Path string
	Data []byte
}

// ParseError reports a document that could not be turned into text.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
