package crawler

import "fmt"

// FetchError reports a network or HTTP failure for a single URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports content that could not be parsed as a page.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
