package crawler

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const noTitle = "No Title"

// Extracted is the readable part of an HTML page.
type Extracted struct {
	Title string
	Text  string
	Links []string
}

// Extract parses an HTML document. The text comes from <main> when the page
// has one and from <body> otherwise, one trimmed text node per line.
func Extract(r io.Reader) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Extracted{}, err
	}

	out := Extracted{Title: strings.TrimSpace(doc.Find("title").First().Text())}
	if out.Title == "" {
		out.Title = noTitle
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			out.Links = append(out.Links, href)
		}
	})

	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		return out, nil
	}
	root.Find("script, style, noscript, template").Remove()

	var lines []string
	for _, n := range root.Nodes {
		collectText(n, &lines)
	}
	out.Text = strings.Join(lines, "\n")
	return out, nil
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			*lines = append(*lines, text)
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, lines)
	}
}
