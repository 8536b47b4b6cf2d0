package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const BraveSearchURL = "https://api.search.brave.com/res/v1/web/search"

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveResponse struct {
	Query struct {
		Original string `json:"original"`
	} `json:"query"`
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
	News struct {
		Results []braveResult `json:"results"`
	} `json:"news"`
}

// BraveSearch returns a tool querying the Brave Search API with the key in BRAVE_API_KEY.
// An empty endpoint uses BraveSearchURL.
func BraveSearch(client *http.Client, endpoint string) Func {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = BraveSearchURL
	}
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		query := StringArg(args, "query")
		if query == "" {
			return "", fmt.Errorf("query is required")
		}
		apiKey := os.Getenv("BRAVE_API_KEY")
		if apiKey == "" {
			return "", fmt.Errorf("BRAVE_API_KEY environment variable not set")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("error creating request: %w", err)
		}
		q := req.URL.Query()
		q.Add("q", query)
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("error sending request to Brave Search API: %w", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("error reading response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("Brave Search API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var result braveResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("error unmarshalling Brave Search API response: %w", err)
		}
		return formatBraveResults(result), nil
	}
}

func formatBraveResults(r braveResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search Query: %s\n\n", r.Query.Original)
	writeBraveSection(&b, "Web Search Results", "web", r.Web.Results)
	b.WriteString("\n")
	writeBraveSection(&b, "News Results", "news", r.News.Results)
	return b.String()
}

func writeBraveSection(b *strings.Builder, heading, kind string, results []braveResult) {
	fmt.Fprintf(b, "%s:\n\n", heading)
	if len(results) == 0 {
		fmt.Fprintf(b, "  No %s results found.\n", kind)
		return
	}
	for i, res := range results {
		source := "Unknown"
		if u, err := url.Parse(res.URL); err == nil && u.Hostname() != "" {
			source = strings.TrimPrefix(u.Hostname(), "www.")
		}
		fmt.Fprintf(b, "%d. Title: %s\n", i+1, stripStrong(res.Title))
		fmt.Fprintf(b, "   URL: %s\n", res.URL)
		fmt.Fprintf(b, "   Description: %s\n", stripStrong(res.Description))
		fmt.Fprintf(b, "   Source: %s\n\n", source)
	}
}

func stripStrong(s string) string {
	return strings.NewReplacer("<strong>", "", "</strong>", "").Replace(s)
}
