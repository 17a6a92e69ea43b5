package notice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
)

// maxPageSize caps how much of a listing page is parsed.
const maxPageSize = 8 << 20

// Hooks is the part of the host hook collection the fetcher needs.
type Hooks interface {
	Transport() http.RoundTripper
	AfterFetch(result *FetchResult) error
}

// Fetcher downloads listing pages through the hook chain.
type Fetcher struct {
	hooks     Hooks
	client    *http.Client
	userAgent string
}

// NewFetcher creates a Fetcher that sends every request through hooks.
// Redirects are followed, and each hop passes the hook chain again.
func NewFetcher(hooks Hooks, userAgent string) *Fetcher {
	return &Fetcher{
		hooks:     hooks,
		client:    &http.Client{Transport: hooks.Transport()},
		userAgent: userAgent,
	}
}

// Fetch downloads src, extracts its notices and runs the after-fetch hooks.
// Errors reported by after-fetch hooks are logged; the result is still returned.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (*FetchResult, error) {
	var pattern *regexp.Regexp
	if src.LinkPattern != "" {
		var err error
		if pattern, err = regexp.Compile(src.LinkPattern); err != nil {
			return nil, fmt.Errorf("source %s: invalid link pattern: %w", src.Name, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}
	if src.Referer != "" {
		req.Header.Set("Referer", src.Referer)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source %s: fetch failed: %w", src.Name, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Debug("Error closing response body of %s: %v", src.Name, closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("source %s: unexpected status %d", src.Name, resp.StatusCode)
	}

	base, _ := url.Parse(src.URL)
	notices, err := ExtractNotices(io.LimitReader(resp.Body, maxPageSize), base, pattern)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}

	result := &FetchResult{Source: src.Name, Notices: notices}
	if err := f.hooks.AfterFetch(result); err != nil {
		logger.Warn("Post-processing of %s was incomplete: %v", src.Name, err)
	}

	logger.Info("Fetched %d notice(s) from %s", len(result.Notices), src.Name)
	return result, nil
}

// FetchAll fetches every source concurrently. Results keep the order of
// sources; the first error cancels the remaining fetches.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]*FetchResult, error) {
	results := make([]*FetchResult, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			result, err := f.Fetch(ctx, src)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExtractNotices collects the anchors of an HTML document. Every href is
// resolved against base; when pattern is set, only matching links are kept.
// A link appears at most once, in document order.
func ExtractNotices(r io.Reader, base *url.URL, pattern *regexp.Regexp) ([]*Notice, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var notices []*Notice
	seen := make(map[string]struct{})

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if link, ok := resolveHref(n, base); ok {
				if _, dup := seen[link]; !dup && (pattern == nil || pattern.MatchString(link)) {
					seen[link] = struct{}{}
					notices = append(notices, &Notice{ID: link, Link: link, Title: anchorTitle(n)})
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return notices, nil
}

func resolveHref(n *html.Node, base *url.URL) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key != "href" {
			continue
		}
		href := strings.TrimSpace(attr.Val)
		if href == "" || strings.HasPrefix(href, "#") {
			return "", false
		}
		u, err := url.Parse(href)
		if err != nil {
			return "", false
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", false
		}
		return u.String(), true
	}
	return "", false
}

// anchorTitle prefers the title attribute, which listing pages often use
// for the untruncated headline, and falls back to the anchor text.
func anchorTitle(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Key == "title" && strings.TrimSpace(attr.Val) != "" {
			return strings.TrimSpace(attr.Val)
		}
	}

	var b strings.Builder
	var collect func(*html.Node)
	collect = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
