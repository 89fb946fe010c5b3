package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const maxPageBytes = 10 << 20

// PageFunc receives every page the crawler could read.
type PageFunc func(ctx context.Context, pageURL string, c *Content) error

// Crawl does a breadth-first walk of the pages below baseURL on the same
// host, visiting at most maxPages. Pages that fail to download are logged
// and skipped; an error from fn stops the crawl.
func Crawl(ctx context.Context, client *http.Client, baseURL string, maxPages int, fn PageFunc) error {
	if client == nil {
		client = http.DefaultClient
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("base-url inválida: %q", baseURL)
	}

	visited := make(map[string]bool)
	queue := []string{base.String()}
	pages := 0

	for len(queue) > 0 && pages < maxPages {
		if err := ctx.Err(); err != nil {
			return err
		}

		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		visited[current] = true
		pages++

		slog.Info("crawl: downloading", "url", current)
		htmlStr, err := fetch(ctx, client, current)
		if err != nil {
			slog.Warn("crawl: skipping page", "url", current, "err", err)
			continue
		}

		title, text := extractMainText(htmlStr)
		text = strings.TrimSpace(SanitizeUTF8(text))
		if text != "" {
			if title == "" {
				title = urlToTitle(current, base)
			}
			if err := fn(ctx, current, &Content{Text: text, Title: title}); err != nil {
				return err
			}
		}

		for _, link := range extractLinks(htmlStr, base) {
			if !visited[link] {
				queue = append(queue, link)
			}
		}
	}

	return nil
}

func fetch(ctx context.Context, client *http.Client, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func urlToTitle(raw string, base *url.URL) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == base.Path || u.Path == base.Path+"/" {
		return "Overview"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := parts[len(parts)-1]
	last = strings.SplitN(last, ".", 2)[0]
	last = strings.ReplaceAll(last, "-", " ")
	return strings.TrimSpace(last)
}

var skippedAssets = []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".zip"}

func extractLinks(htmlStr string, base *url.URL) []string {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				h := strings.TrimSpace(a.Val)
				if h == "" || strings.HasPrefix(h, "#") {
					continue
				}
				u, err := url.Parse(h)
				if err != nil {
					continue
				}
				u = base.ResolveReference(u)

				if u.Host != base.Host || !strings.HasPrefix(u.Path, base.Path) {
					continue
				}
				if isAsset(u.Path) {
					continue
				}

				link := u.Scheme + "://" + u.Host + u.Path
				if !seen[link] {
					seen[link] = true
					out = append(out, link)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return out
}

func isAsset(path string) bool {
	p := strings.ToLower(path)
	for _, ext := range skippedAssets {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}
