// Package source provides LinkSource implementations for pkg/linkcheck:
// a trivial in-memory source, and a source that crawls the rendered HTML
// output of an Antora site (or any static site) on disk.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/coolbeans/antoracheck/pkg/linkcheck"
	"golang.org/x/net/html"
)

// SliceSource is a LinkSource backed by a fixed, pre-computed slice of
// Links — useful for tests and for callers that already have a discovery
// pipeline producing Link values.
type SliceSource struct {
	links []linkcheck.Link
}

// NewSliceSource wraps links as a LinkSource.
func NewSliceSource(links []linkcheck.Link) SliceSource {
	return SliceSource{links: links}
}

// Links implements linkcheck.LinkSource.
func (s SliceSource) Links(ctx context.Context) ([]linkcheck.Link, error) {
	return s.links, nil
}

// DirectorySource walks a directory of rendered HTML files and extracts
// every <a href>, <link href>, <img src> and <script src> target (except
// empty, javascript: and mailto: targets) as a Link, resolving relative
// targets against baseURL and the file's own site-relative path, and
// recording the originating file/line for error reporting.
type DirectorySource struct {
	root    string
	baseURL string
}

// NewDirectorySource builds a DirectorySource over the rendered site
// rooted at dir, whose pages were published under baseURL.
func NewDirectorySource(dir, baseURL string) *DirectorySource {
	return &DirectorySource{root: dir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Links implements linkcheck.LinkSource by walking the directory tree for
// *.html files and tokenizing each one.
func (s *DirectorySource) Links(ctx context.Context) ([]linkcheck.Link, error) {
	var links []linkcheck.Link

	err := filepath.WalkDir(s.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			return nil
		}

		found, err := s.extractFromFile(path)
		if err != nil {
			return fmt.Errorf("extracting links from %s: %w", path, err)
		}
		links = append(links, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (s *DirectorySource) extractFromFile(filePath string) ([]linkcheck.Link, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	pageURL := s.pageURL(filePath)
	var links []linkcheck.Link

	tokenizer := html.NewTokenizer(strings.NewReader(string(contents)))
	line := 1
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			break
		}
		raw := tokenizer.Raw()
		line += strings.Count(string(raw), "\n")

		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}
		token := tokenizer.Token()
		attrName := hrefAttrFor(token.Data)
		if attrName == "" {
			continue
		}
		for _, attr := range token.Attr {
			if attr.Key != attrName {
				continue
			}
			target := attr.Val
			if target == "" || strings.HasPrefix(target, "javascript:") || strings.HasPrefix(target, "mailto:") {
				continue
			}
			resolved, ok := resolveAgainst(pageURL, target)
			if !ok {
				continue
			}
			link := linkcheck.NewLink(target, resolved).WithSource(filePath, line)
			links = append(links, link)
		}
	}
	return links, nil
}

func hrefAttrFor(tag string) string {
	switch tag {
	case "a", "link":
		return "href"
	case "img", "script":
		return "src"
	default:
		return ""
	}
}

func (s *DirectorySource) pageURL(filePath string) string {
	rel, err := filepath.Rel(s.root, filePath)
	if err != nil {
		return s.baseURL
	}
	return s.baseURL + "/" + filepath.ToSlash(rel)
}

func resolveAgainst(pageURL, target string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
