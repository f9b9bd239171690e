package crawler

import (
	"net/url"
	"path"
	"strings"
)

var documentExtensions = []string{".pdf", ".doc", ".docx"}

// Scope decides which discovered links are followed.
type Scope struct {
	// Host must match the link host exactly (case-insensitive, port included).
	Host string
	// PathPrefix must prefix the link path. Empty allows every path.
	PathPrefix string
}

// InScope reports whether u is an HTML page the crawler should follow.
func (s Scope) InScope(u *url.URL) bool {
	if u == nil || !isHTTP(u) {
		return false
	}
	if !strings.EqualFold(u.Host, s.Host) {
		return false
	}
	return strings.HasPrefix(u.Path, s.PathPrefix)
}

// IsDocument reports whether u points at a downloadable PDF or Word file.
func IsDocument(u *url.URL) bool {
	if u == nil || !isHTTP(u) {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, candidate := range documentExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func isHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// resolve turns href into an absolute URL relative to base, without fragment.
func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs, true
}
