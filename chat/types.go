package chat

import "github.com/fabfab/visacoach/index"

// Session carries one question through the clarification gate. It is a
// plain value: callers keep it between turns and pass it back to Ask.
type Session struct {
	OriginalQuery      string     `json:"original_query"`
	Clarification      string     `json:"clarification,omitempty"`
	ResolvedQuery      string     `json:"resolved_query,omitempty"`
	Answer             string     `json:"answer,omitempty"`
	Sources            []string   `json:"sources,omitempty"`
	Citations          []Citation `json:"citations,omitempty"`
	NeedsClarification bool       `json:"needs_clarification"`
}

// SourceInsight is what the knowledge graph knows about a cited source.
type SourceInsight struct {
	ChunkCount    int      `json:"chunk_count"`
	ReferrerPages []string `json:"referrer_pages,omitempty"`
}

type Citation struct {
	Source  string         `json:"source"`
	Title   string         `json:"title"`
	Score   float64        `json:"score"`
	Insight *SourceInsight `json:"insight,omitempty"`
}

type Answer struct {
	Text      string
	Sources   []string
	Citations []Citation
	Hits      []index.Hit
}
