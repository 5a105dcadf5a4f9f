package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatrelay/chatrelay/internal/config"
)

// WebSearchInput represents the input to the web_search tool.
type WebSearchInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults,omitempty"`
}

// WebSearchResult represents a single search result.
type WebSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchOutput represents the output from web_search.
type WebSearchOutput struct {
	Query   string            `json:"query"`
	Results []WebSearchResult `json:"results"`
}

// webSearchTool returns the web_search handler. Brave is used when a key is
// configured, DuckDuckGo HTML search otherwise.
func webSearchTool(cfg *config.Config) Handler {
	return func(ctx context.Context, inputJSON string) (string, error) {
		var input WebSearchInput
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return "", fmt.Errorf("invalid web_search input: %w", err)
		}
		if input.Query == "" {
			return "", fmt.Errorf("query is required")
		}
		if input.MaxResults == 0 {
			input.MaxResults = 5
		}

		var results []WebSearchResult
		var err error
		if key := strings.TrimSpace(cfg.Tools.BraveAPIKey); key != "" {
			results, err = braveSearch(ctx, key, input.Query, input.MaxResults)
		} else {
			results, err = searchDuckDuckGo(ctx, input.Query, input.MaxResults)
		}
		if err != nil {
			return "", fmt.Errorf("search failed: %w", err)
		}

		out, err := json.Marshal(WebSearchOutput{Query: input.Query, Results: results})
		if err != nil {
			return "", fmt.Errorf("marshal output: %w", err)
		}
		return string(out), nil
	}
}

// searchDuckDuckGo performs a simple DuckDuckGo HTML search.
func searchDuckDuckGo(ctx context.Context, query string, maxResults int) ([]WebSearchResult, error) {
	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; chatrelay/1.0)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return parseSearchResults(string(body), maxResults), nil
}

// parseSearchResults extracts search results from DuckDuckGo HTML.
func parseSearchResults(html string, maxResults int) []WebSearchResult {
	results := make([]WebSearchResult, 0, maxResults)
	marker := `class="result__a" href="`
	offset := 0

	for len(results) < maxResults {
		i := strings.Index(html[offset:], marker)
		if i < 0 {
			break
		}
		i += offset + len(marker)
		j := strings.Index(html[i:], `"`)
		if j < 0 {
			break
		}
		link := html[i : i+j]
		titleStart := strings.Index(html[i+j:], ">")
		if titleStart < 0 {
			offset = i + j
			continue
		}
		titleStart += i + j + 1
		titleEnd := strings.Index(html[titleStart:], "</a>")
		if titleEnd < 0 {
			offset = titleStart
			continue
		}
		title := stripHTML(html[titleStart : titleStart+titleEnd])
		if title == "" || link == "" {
			offset = titleStart + titleEnd
			continue
		}
		results = append(results, WebSearchResult{
			Title: title,
			URL:   decodeDuckURL(link),
		})
		offset = titleStart + titleEnd
	}

	return results
}

// braveSearch uses the Brave Search API.
func braveSearch(ctx context.Context, apiKey, query string, maxResults int) ([]WebSearchResult, error) {
	u := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Subscription-Token", apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave search returned status %d", resp.StatusCode)
	}
	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	out := make([]WebSearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		out = append(out, WebSearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return out, nil
}

func stripHTML(s string) string {
	r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&#39;", "'", "&quot;", "\"")
	out := r.Replace(s)
	out = strings.ReplaceAll(out, "<b>", "")
	out = strings.ReplaceAll(out, "</b>", "")
	return strings.TrimSpace(out)
}

func decodeDuckURL(u string) string {
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	if parsed.Path == "/l/" || parsed.Path == "/l" {
		target := parsed.Query().Get("uddg")
		if target != "" {
			if dec, err := url.QueryUnescape(target); err == nil {
				return dec
			}
			return target
		}
	}
	return u
}
