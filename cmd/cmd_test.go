package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabfab/visacoach/chat"
	"github.com/fabfab/visacoach/index"
)

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"crawl", "ingest", "ask", "serve", "mcp", "clear"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, ingestCmd.Flags().Lookup("crawl"))
	assert.NotNil(t, askCmd.Flags().Lookup("clarification"))
	assert.NotNil(t, clearCmd.Flags().Lookup("confirm"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestPrintCitations(t *testing.T) {
	var buf bytes.Buffer
	printCitations(&buf, []chat.Citation{
		{Source: "https://www.sjsu.edu/isss/cpt", Title: "CPT", Insight: &chat.SourceInsight{ChunkCount: 3, ReferrerPages: []string{"https://www.sjsu.edu/isss/"}}},
		{Source: "data-store/files/opt.pdf", Title: "opt"},
	})

	out := buf.String()
	assert.Contains(t, out, "1. CPT (https://www.sjsu.edu/isss/cpt)")
	assert.Contains(t, out, "Indexed chunks: 3")
	assert.Contains(t, out, "Linked from: https://www.sjsu.edu/isss/")
	assert.Contains(t, out, "2. opt (data-store/files/opt.pdf)")
}

func TestPrintCitationsEmpty(t *testing.T) {
	var buf bytes.Buffer
	printCitations(&buf, nil)
	assert.Empty(t, buf.String())
}

func TestPrintFooterEndsWithDisclaimer(t *testing.T) {
	var buf bytes.Buffer
	printFooter(&buf, []chat.Citation{{Source: "https://www.sjsu.edu/isss/cpt", Title: "CPT"}})

	out := buf.String()
	assert.Contains(t, out, "1. CPT (https://www.sjsu.edu/isss/cpt)")
	assert.True(t, strings.HasSuffix(out, "Always verify with your ISSS Advisor for final approval.\n"))
}

func TestFormatAnswer(t *testing.T) {
	out := formatAnswer(chat.Session{
		Answer:    "CPT must be authorized before you start work.",
		Citations: []chat.Citation{{Source: "https://www.sjsu.edu/isss/cpt", Title: "CPT"}},
	})
	assert.True(t, strings.HasPrefix(out, "CPT must be authorized before you start work.\n\nSources:\n1. CPT (https://www.sjsu.edu/isss/cpt)\n"))
	assert.True(t, strings.HasSuffix(out, disclaimer))

	assert.Equal(t, "No answer.\n\n"+disclaimer, formatAnswer(chat.Session{Answer: "No answer."}))
}

func TestFormatHits(t *testing.T) {
	assert.Equal(t, `No passages found for "sevis".`, formatHits("sevis", nil))

	out := formatHits("opt", []index.Hit{{Chunk: index.Chunk{Source: "https://www.sjsu.edu/isss/opt", Title: "OPT", Text: " OPT is 12 months. "}, Score: 0.5}})
	assert.Contains(t, out, "### 1. OPT (score 0.500)")
	assert.Contains(t, out, "OPT is 12 months.")
}
