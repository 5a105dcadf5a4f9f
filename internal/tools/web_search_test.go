package tools

import (
	"testing"
)

func TestParseSearchResults(t *testing.T) {
	html := `
<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F">The Go Programming <b>Language</b></a>
<a rel="nofollow" class="result__a" href="https://golang.org/doc/">Documentation &amp; Guides</a>
<a rel="nofollow" class="result__a" href="https://example.com/three">Third</a>`

	results := parseSearchResults(html, 2)
	if len(results) != 2 {
		t.Fatalf("len = %d; want 2 (maxResults honored)", len(results))
	}
	if results[0].Title != "The Go Programming Language" {
		t.Errorf("title = %q", results[0].Title)
	}
	if results[0].URL != "https://go.dev/" {
		t.Errorf("url = %q", results[0].URL)
	}
	if results[1].Title != "Documentation & Guides" {
		t.Errorf("title = %q", results[1].Title)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain", "plain"},
		{"<b>bold</b> text", "bold text"},
		{"a &amp; b &lt;c&gt;", "a & b <c>"},
		{"  padded  ", "padded"},
	}
	for _, tc := range tests {
		if got := stripHTML(tc.input); got != tc.want {
			t.Errorf("stripHTML(%q) = %q; want %q", tc.input, got, tc.want)
		}
	}
}

func TestDecodeDuckURL(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F", "https://go.dev/"},
		{"https://duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F", "https://go.dev/"},
		{"https://example.com/page", "https://example.com/page"},
	}
	for _, tc := range tests {
		if got := decodeDuckURL(tc.input); got != tc.want {
			t.Errorf("decodeDuckURL(%q) = %q; want %q", tc.input, got, tc.want)
		}
	}
}
