// Package crawler walks a seed site, saves the visible text of in-scope pages
// and downloads linked PDF and Word documents.
package crawler

// PageRecord is the on-disk form of a crawled HTML page.
type PageRecord struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FileRecord is a downloaded binary document. Files are leaves: they are
// never parsed for links.
type FileRecord struct {
	LocalPath string `json:"local_path"`
	SourceURL string `json:"source_url"`
}

type LinkKind string

const (
	LinkPage LinkKind = "page"
	LinkFile LinkKind = "file"
)

// Link is an edge discovered while crawling.
type Link struct {
	From string
	To   string
	Kind LinkKind
}

// PageRef identifies a page saved during a crawl.
type PageRef struct {
	URL   string
	Title string
	Path  string
}

// Stats summarises a crawl run.
type Stats struct {
	Pages  []PageRef
	Files  []FileRecord
	Links  []Link
	Failed []string
	Errors int
}
