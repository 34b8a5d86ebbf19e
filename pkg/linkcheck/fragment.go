package linkcheck

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// FragmentValidator decides whether a Link's fragment resolves inside a
// Response body. A Link with no fragment is always valid and validators
// need not special-case that: Validate is only invoked when a fragment is
// present.
type FragmentValidator interface {
	Validate(link Link, response *Response) ValidationResult
}

// FragmentValidatorFunc adapts a function to a FragmentValidator.
type FragmentValidatorFunc func(link Link, response *Response) ValidationResult

// Validate calls fn.
func (fn FragmentValidatorFunc) Validate(link Link, response *Response) ValidationResult {
	return fn(link, response)
}

// AlwaysValid returns a FragmentValidator that never rejects a fragment.
func AlwaysValid() FragmentValidator {
	return FragmentValidatorFunc(func(link Link, response *Response) ValidationResult {
		return Valid(link, response.StatusCode)
	})
}

// javadocFragmentChars matches any of the characters that are illegal in CSS
// selector syntax but legal in a Javadoc-style member anchor such as
// "#foo(int,long)". Their presence signals "treat the fragment as a raw
// element id", not a selector.
var javadocFragmentChars = regexp.MustCompile(`[(),.]`)

// defaultFragmentValidator is the HTML fragment validator: it looks up the
// fragment as an element id first (for Javadoc-style anchors), then falls
// back to a CSS selector query, and finally to a[name="..."].
type defaultFragmentValidator struct{}

// DefaultFragmentValidator parses the response body as HTML and resolves
// the fragment against element ids, a CSS selector, or an a[name] anchor.
func DefaultFragmentValidator() FragmentValidator {
	return defaultFragmentValidator{}
}

func (defaultFragmentValidator) Validate(link Link, response *Response) ValidationResult {
	doc, err := parsedHTML(response)
	if err != nil {
		return Invalid(link, response.StatusCode, fmt.Sprintf("Could not parse HTML body: %v", err))
	}

	fragment := link.Fragment()
	id := strings.TrimPrefix(fragment, "#")

	if javadocFragmentChars.MatchString(id) {
		if findByID(doc, id) != nil {
			return Valid(link, response.StatusCode)
		}
		// Falls through to the selector/name-attribute path below, exactly
		// as the id lookup failing does not short-circuit to invalid.
	}

	sel, err := parseSelector(fragment)
	if err != nil {
		panic(fmt.Errorf("fragment selector %q: %w", fragment, err))
	}
	if len(selectAll(doc, sel, 1)) > 0 {
		return Valid(link, response.StatusCode)
	}

	nameSelector := &selector{compounds: []compoundSelector{{tag: "a", attrs: []attrMatch{{name: "name", value: id, hasValue: true}}}}}
	if len(selectAll(doc, nameSelector, 1)) > 0 {
		return Valid(link, response.StatusCode)
	}

	return Invalid(link, response.StatusCode, fmt.Sprintf("Could not find %s", fragment))
}

func parsedHTML(response *Response) (*html.Node, error) {
	decoded, err := response.BodyAs(KindHTMLDocument, func(body []byte) (any, error) {
		return html.Parse(strings.NewReader(string(body)))
	})
	if err != nil {
		return nil, err
	}
	return decoded.(*html.Node), nil
}

func findByID(node *html.Node, id string) *html.Node {
	if node.Type == html.ElementNode {
		for _, attr := range node.Attr {
			if attr.Key == "id" && attr.Val == id {
				return node
			}
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

// gitHubLinePattern and gitHubRangePattern mirror the Java original's
// whole-string-match regexes for GitHub blob line fragments.
var (
	gitHubLinePattern  = regexp.MustCompile(`^#L([0-9]+)$`)
	gitHubRangePattern = regexp.MustCompile(`^#L([0-9]+)-L([0-9]+)$`)
)

type gitHubBlobContent struct {
	Content string `json:"content"`
}

type gitHubBlobFragmentValidator struct{}

// GitHubBlobFragmentValidator resolves fragments of the form "#L<n>" or
// "#L<a>-L<b>" against a GitHub contents-API JSON body ({"content":
// "<base64>"}), counting the decoded content's lines.
func GitHubBlobFragmentValidator() FragmentValidator {
	return gitHubBlobFragmentValidator{}
}

func (gitHubBlobFragmentValidator) Validate(link Link, response *Response) ValidationResult {
	lastLine, err := blobLastLine(response)
	if err != nil {
		return Invalid(link, response.StatusCode, fmt.Sprintf("Could not decode blob content: %v", err))
	}

	fragment := link.Fragment()

	if match := gitHubLinePattern.FindStringSubmatch(fragment); match != nil {
		n, _ := strconv.Atoi(match[1])
		if n > 0 && n <= lastLine {
			return Valid(link, response.StatusCode)
		}
		return Invalid(link, response.StatusCode, fmt.Sprintf("Line %d out of range (1-%d)", n, lastLine))
	}

	if match := gitHubRangePattern.FindStringSubmatch(fragment); match != nil {
		a, _ := strconv.Atoi(match[1])
		b, _ := strconv.Atoi(match[2])
		if a > 0 && a <= b && b <= lastLine {
			return Valid(link, response.StatusCode)
		}
		return Invalid(link, response.StatusCode, fmt.Sprintf("Line range %d-%d out of range (1-%d)", a, b, lastLine))
	}

	return Invalid(link, response.StatusCode, fmt.Sprintf("Fragment %s not supported", fragment))
}

func blobLastLine(response *Response) (int, error) {
	decoded, err := response.BodyAs(KindGitHubBlobText, func(body []byte) (any, error) {
		var blob gitHubBlobContent
		if err := json.Unmarshal(body, &blob); err != nil {
			return nil, fmt.Errorf("unmarshal blob JSON: %w", err)
		}
		raw, err := base64.StdEncoding.DecodeString(stripBase64Whitespace(blob.Content))
		if err != nil {
			return nil, fmt.Errorf("decode base64 content: %w", err)
		}
		lines := 0
		for _, b := range raw {
			if b == '\n' {
				lines++
			}
		}
		if len(raw) > 0 && raw[len(raw)-1] != '\n' {
			// A final line without a trailing newline still counts.
			lines++
		}
		return lines, nil
	})
	if err != nil {
		return 0, err
	}
	return decoded.(int), nil
}

func stripBase64Whitespace(content string) string {
	var builder strings.Builder
	builder.Grow(len(content))
	for _, r := range content {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
