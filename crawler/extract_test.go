package crawler

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPrefersMain(t *testing.T) {
	page := `<html><head><title>  OPT Overview </title><style>p{}</style></head>
<body>
  <nav>Navigation</nav>
  <main>
    <h1>OPT</h1>
    <script>var x = 1;</script>
    <p>Apply up to 90 days before completion.</p>
  </main>
</body></html>`

	out, err := Extract(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "OPT Overview", out.Title)
	assert.Equal(t, "OPT\nApply up to 90 days before completion.", out.Text)
	assert.NotContains(t, out.Text, "Navigation")
}

func TestExtractFallsBackToBody(t *testing.T) {
	page := `<html><body><p>SEVIS record</p><noscript>enable js</noscript><a href="/isss/x">link</a></body></html>`

	out, err := Extract(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "No Title", out.Title)
	assert.Equal(t, "SEVIS record\nlink", out.Text)
	assert.Equal(t, []string{"/isss/x"}, out.Links)
}

func TestScope(t *testing.T) {
	scope := Scope{Host: "www.sjsu.edu", PathPrefix: "/isss/"}

	cases := map[string]bool{
		"https://www.sjsu.edu/isss/cpt":       true,
		"http://WWW.SJSU.EDU/isss/":           true,
		"https://www.sjsu.edu/admissions/":    false,
		"https://sjsu.edu/isss/cpt":           false,
		"mailto:isss@sjsu.edu":                false,
		"https://www.sjsu.edu/other/isss/cpt": false,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, scope.InScope(u), raw)
	}
}

func TestIsDocument(t *testing.T) {
	for raw, want := range map[string]bool{
		"https://www.sjsu.edu/isss/docs/CPT.PDF":   true,
		"https://www.sjsu.edu/isss/docs/form.docx": true,
		"https://www.sjsu.edu/isss/docs/old.doc":   true,
		"https://www.sjsu.edu/isss/docs/page.html": false,
		"ftp://www.sjsu.edu/isss/docs/form.pdf":    false,
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, IsDocument(u), raw)
	}
}

func TestResolveDropsFragments(t *testing.T) {
	base, err := url.Parse("https://www.sjsu.edu/isss/students/index.php")
	require.NoError(t, err)

	got, ok := resolve(base, "../cpt#top")
	require.True(t, ok)
	assert.Equal(t, "https://www.sjsu.edu/isss/cpt", got.String())

	_, ok = resolve(base, "#only-fragment")
	assert.False(t, ok)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "CPT Form.pdf", FileName("https://www.sjsu.edu/isss/docs/CPT%20Form.pdf"))
	assert.Len(t, FileName("https://www.sjsu.edu/"), 32)
}
