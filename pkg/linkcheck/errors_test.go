package linkcheck

import (
	"strings"
	"testing"
)

type stubResolver struct {
	path string
	ok   bool
}

func (s stubResolver) IsAsciiDocSource(link Link) bool {
	return s.ok
}

func (s stubResolver) ResolveSourcePath(link Link) (string, bool) {
	return s.path, s.ok
}

func TestValidationErrorStreamFiltersToInvalidOnly(t *testing.T) {
	link := NewLinkResolved("https://example.test/a")
	results := []ValidationResult{
		Valid(link, 200),
		Invalid(link, 404, "Not Found"),
		Retry(link, 503, "Service Unavailable", 1000),
	}

	stream := newValidationErrorStream(results, nil)
	if stream.Count() != 2 {
		t.Fatalf("expected 2 invalid results, got %d", stream.Count())
	}
	list := stream.ToList()
	if len(list) != 2 {
		t.Fatalf("ToList returned %d results, want 2", len(list))
	}
}

func TestValidationErrorStreamAssertValidNilWhenEmpty(t *testing.T) {
	stream := newValidationErrorStream(nil, nil)
	if err := stream.AssertValid(); err != nil {
		t.Fatalf("expected nil error for an empty stream, got %v", err)
	}
}

func TestValidationErrorStreamFormatsSourceFileFromLink(t *testing.T) {
	link := NewLinkResolved("https://example.test/a").WithSource("docs/a.adoc", 12)
	stream := newValidationErrorStream([]ValidationResult{Invalid(link, 404, "Not Found")}, nil)

	err := stream.AssertValid()
	if err == nil {
		t.Fatal("expected a non-nil aggregate error")
	}
	if !strings.Contains(err.Error(), "(from docs/a.adoc:12)") {
		t.Fatalf("expected source location in error, got %q", err.Error())
	}
}

func TestValidationErrorStreamFallsBackToResolver(t *testing.T) {
	link := NewLinkResolved("https://docs.example.com/page.html")
	resolver := stubResolver{path: "modules/ROOT/pages/page.adoc", ok: true}
	stream := newValidationErrorStream([]ValidationResult{Invalid(link, 404, "Not Found")}, resolver)

	err := stream.AssertValid()
	if err == nil {
		t.Fatal("expected a non-nil aggregate error")
	}
	if !strings.Contains(err.Error(), "(from modules/ROOT/pages/page.adoc:0)") {
		t.Fatalf("expected resolver-derived source location in error, got %q", err.Error())
	}
}

func TestValidationErrorStreamOmitsLocationWhenUnresolved(t *testing.T) {
	link := NewLinkResolved("https://example.test/a")
	stream := newValidationErrorStream([]ValidationResult{Invalid(link, 404, "Not Found")}, stubResolver{ok: false})

	err := stream.AssertValid()
	if err == nil {
		t.Fatal("expected a non-nil aggregate error")
	}
	if strings.Contains(err.Error(), "(from") {
		t.Fatalf("expected no source location clause, got %q", err.Error())
	}
}
