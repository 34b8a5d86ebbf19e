// Package resolve provides the default ResourceResolver implementation
// consumed by pkg/linkcheck: mapping a rendered site's resolved URIs back
// to the AsciiDoc source files they were generated from.
package resolve

import (
	"net/url"
	"path"
	"strings"

	"github.com/coolbeans/antoracheck/pkg/linkcheck"
)

// SiteResolver maps resolved URIs under baseURL back to on-disk AsciiDoc
// source paths under sourceRoot, following Antora's own convention:
// "<baseURL>/a/b/" or "<baseURL>/a/b/index.html" maps to
// "<sourceRoot>/a/b/index.adoc", and "<baseURL>/a/b.html" maps to
// "<sourceRoot>/a/b.adoc".
type SiteResolver struct {
	baseURL    string
	sourceRoot string
}

// NewSiteResolver builds a SiteResolver. baseURL is the site's published
// root (e.g. "https://docs.example.com"); sourceRoot is the directory
// containing the AsciiDoc sources the site was generated from.
func NewSiteResolver(baseURL, sourceRoot string) *SiteResolver {
	return &SiteResolver{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		sourceRoot: strings.TrimSuffix(sourceRoot, "/"),
	}
}

// ResolveSourcePath implements linkcheck.ResourceResolver.
func (resolver *SiteResolver) ResolveSourcePath(link linkcheck.Link) (string, bool) {
	resolvedURI := link.ResolvedURI()
	if !strings.HasPrefix(resolvedURI, resolver.baseURL) {
		return "", false
	}
	parsed, err := url.Parse(resolvedURI)
	if err != nil {
		return "", false
	}

	sitePath := strings.TrimPrefix(parsed.Path, siteRootPath(resolver.baseURL))
	sitePath = strings.TrimPrefix(sitePath, "/")

	switch {
	case sitePath == "" || strings.HasSuffix(sitePath, "/"):
		sitePath += "index.html"
	}
	if !strings.HasSuffix(sitePath, ".html") {
		// Not a rendered page (an image, a PDF, a download) — no AsciiDoc
		// source backs it.
		return "", false
	}

	sourcePath := strings.TrimSuffix(sitePath, ".html") + ".adoc"
	return path.Join(resolver.sourceRoot, sourcePath), true
}

// IsAsciiDocSource implements linkcheck.ResourceResolver: a link is
// treated as pointing at AsciiDoc source if it resolves to a source path
// under sourceRoot at all.
func (resolver *SiteResolver) IsAsciiDocSource(link linkcheck.Link) bool {
	_, ok := resolver.ResolveSourcePath(link)
	return ok
}

func siteRootPath(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(parsed.Path, "/")
}
