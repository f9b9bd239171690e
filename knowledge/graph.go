// Package knowledge mirrors the crawled site and the indexed sources into a
// Neo4j graph so answers can cite where a source was linked from.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/visacoach/crawler"
)

type Page struct {
	URL   string
	Title string
}

type File struct {
	URL  string
	Path string
}

type Link struct {
	From string
	To   string
}

// Site is the link structure observed by one crawl.
type Site struct {
	Pages     []Page
	Files     []File
	PageLinks []Link
	FileLinks []Link
}

// Source is an indexed document. ID is the page URL or the local file path.
type Source struct {
	ID         string
	Title      string
	ChunkCount int
}

// SiteFromCrawl converts crawl statistics into a Site.
func SiteFromCrawl(stats crawler.Stats) Site {
	site := Site{
		Pages: make([]Page, 0, len(stats.Pages)),
		Files: make([]File, 0, len(stats.Files)),
	}
	for _, p := range stats.Pages {
		site.Pages = append(site.Pages, Page{URL: p.URL, Title: p.Title})
	}
	for _, f := range stats.Files {
		site.Files = append(site.Files, File{URL: f.SourceURL, Path: f.LocalPath})
	}
	for _, l := range stats.Links {
		link := Link{From: l.From, To: l.To}
		if l.Kind == crawler.LinkFile {
			site.FileLinks = append(site.FileLinks, link)
		} else {
			site.PageLinks = append(site.PageLinks, link)
		}
	}
	return site
}

// IsPageSource reports whether a source ID names a crawled page rather than
// a downloaded file.
func IsPageSource(id string) bool {
	return strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://")
}

func SyncSite(ctx context.Context, driver neo4j.DriverWithContext, site Site) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	pages := make([]map[string]any, 0, len(site.Pages))
	for _, p := range site.Pages {
		pages = append(pages, map[string]any{"url": p.URL, "title": p.Title})
	}
	files := make([]map[string]any, 0, len(site.Files))
	for _, f := range site.Files {
		files = append(files, map[string]any{"url": f.URL, "path": f.Path})
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			UNWIND $pages AS page
			MERGE (p:Page {url: page.url})
			SET p.title = page.title,
			    p.crawled_at = datetime()
		`, map[string]any{"pages": pages}); err != nil {
			return nil, fmt.Errorf("upsert page nodes: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $files AS file
			MERGE (f:File {url: file.url})
			SET f.path = file.path,
			    f.downloaded_at = datetime()
		`, map[string]any{"files": files}); err != nil {
			return nil, fmt.Errorf("upsert file nodes: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $links AS link
			MATCH (a:Page {url: link.from})
			MERGE (b:Page {url: link.to})
			MERGE (a)-[:LINKS_TO]->(b)
		`, map[string]any{"links": linkParams(site.PageLinks)}); err != nil {
			return nil, fmt.Errorf("upsert page links: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $links AS link
			MATCH (a:Page {url: link.from})
			MERGE (f:File {url: link.to})
			MERGE (a)-[:ATTACHES]->(f)
		`, map[string]any{"links": linkParams(site.FileLinks)}); err != nil {
			return nil, fmt.Errorf("upsert file links: %w", err)
		}

		return nil, nil
	})
	return err
}

// SyncSources replaces the Source nodes with the given set, linking each to
// the page or file it was derived from.
func SyncSources(ctx context.Context, driver neo4j.DriverWithContext, sources []Source) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	pages := make([]map[string]any, 0, len(sources))
	files := make([]map[string]any, 0)
	for _, s := range sources {
		row := map[string]any{"id": s.ID, "title": s.Title, "chunk_count": s.ChunkCount}
		if IsPageSource(s.ID) {
			pages = append(pages, row)
		} else {
			files = append(files, row)
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, "MATCH (s:Source) DETACH DELETE s", nil); err != nil {
			return nil, fmt.Errorf("clear source nodes: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (p:Page {url: row.id})
			ON CREATE SET p.title = row.title
			CREATE (s:Source {id: row.id, title: row.title, chunk_count: row.chunk_count})
			CREATE (s)-[:DERIVED_FROM]->(p)
		`, map[string]any{"rows": pages}); err != nil {
			return nil, fmt.Errorf("upsert page sources: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (f:File {path: row.id})
			CREATE (s:Source {id: row.id, title: row.title, chunk_count: row.chunk_count})
			CREATE (s)-[:DERIVED_FROM]->(f)
		`, map[string]any{"rows": files}); err != nil {
			return nil, fmt.Errorf("upsert file sources: %w", err)
		}

		return nil, nil
	})
	return err
}

// Purge removes every node this package writes.
func Purge(ctx context.Context, driver neo4j.DriverWithContext) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Page OR n:File OR n:Source
			DETACH DELETE n
		`, nil); err != nil {
			return nil, fmt.Errorf("delete graph nodes: %w", err)
		}
		return nil, nil
	})
	return err
}

func linkParams(links []Link) []map[string]any {
	out := make([]map[string]any, 0, len(links))
	for _, l := range links {
		out = append(out, map[string]any{"from": l.From, "to": l.To})
	}
	return out
}
