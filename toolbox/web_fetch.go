package toolbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

const maxFetchBytes = 5 * 1024 * 1024

var (
	reScript   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reTag      = regexp.MustCompile(`<[^>]+>`)
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reHeadings = func() []*regexp.Regexp {
		res := make([]*regexp.Regexp, 7)
		for i := 1; i <= 6; i++ {
			res[i] = regexp.MustCompile(fmt.Sprintf(`(?is)<h%d[^>]*>(.*?)</h%d>`, i, i))
		}
		return res
	}()
	reBlock     = regexp.MustCompile(`(?is)</?(?:p|div)[^>]*>`)
	reBr        = regexp.MustCompile(`(?i)<br\s*/?>`)
	reBold      = regexp.MustCompile(`(?is)<(?:b|strong)(?:\s[^>]*)?>(.+?)</(?:b|strong)>`)
	reItalic    = regexp.MustCompile(`(?is)<(?:i|em)(?:\s[^>]*)?>(.+?)</(?:i|em)>`)
	reCode      = regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`)
	reLink      = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	reListItem  = regexp.MustCompile(`(?is)<li[^>]*>(.*?)</li>`)
	entityTable = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"",
		"&#39;", "'", "&apos;", "'", "&nbsp;", " ",
	)
)

// WebFetch returns a tool fetching a URL and converting the page to markdown, or to
// plain text with extractMode "text". maxChars > 0 truncates the result.
func WebFetch(client *http.Client) Func {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		url := StringArg(args, "url")
		if url == "" {
			return "", fmt.Errorf("url is required")
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return "", fmt.Errorf("unsupported url %q", url)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("User-Agent", "tabchat/1.0 (web_fetch)")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetching %s: %w", url, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return "", fmt.Errorf("reading response: %w", err)
		}

		var result string
		if StringArg(args, "extractMode") == "text" {
			result = htmlToText(string(body))
		} else {
			result = htmlToMarkdown(string(body))
		}
		if limit := IntArg(args, "maxChars"); limit > 0 && len(result) > limit {
			result = result[:limit] + "\n...(truncated)"
		}
		return result, nil
	}
}

func stripScripts(html string) string {
	html = reScript.ReplaceAllString(html, "")
	return reStyle.ReplaceAllString(html, "")
}

func tidy(s string) string {
	s = entityTable.Replace(s)
	s = reSpaces.ReplaceAllString(s, " ")
	s = reNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func htmlToText(html string) string {
	return tidy(reTag.ReplaceAllString(stripScripts(html), ""))
}

func htmlToMarkdown(html string) string {
	html = stripScripts(html)
	for i := 6; i >= 1; i-- {
		html = reHeadings[i].ReplaceAllString(html, "\n"+strings.Repeat("#", i)+" $1\n")
	}
	html = reBlock.ReplaceAllString(html, "\n")
	html = reBr.ReplaceAllString(html, "\n")
	// inline formatting goes before the catch-all tag strip
	html = reBold.ReplaceAllString(html, "**$1**")
	html = reItalic.ReplaceAllString(html, "*$1*")
	html = reCode.ReplaceAllString(html, "`$1`")
	html = reLink.ReplaceAllString(html, "[$2]($1)")
	html = reListItem.ReplaceAllString(html, "- $1\n")
	return tidy(reTag.ReplaceAllString(html, ""))
}
