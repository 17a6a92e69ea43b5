package proxy

import (
	"net/url"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// HostRouter decides whether a URL must go through the WebVPN. Only exact
// hostname matches count; subdomains of a configured host are not proxied.
type HostRouter struct {
	trie       *ahocorasick.Trie
	domainList []string
}

// NewHostRouter builds a router over hostnames. Hostnames are lower-cased
// like URL parsing does; duplicates and empty entries are dropped.
func NewHostRouter(hostnames []string) *HostRouter {
	seen := make(map[string]struct{}, len(hostnames))
	domains := make([]string, 0, len(hostnames))
	for _, h := range hostnames {
		h = normalizeHostname(h)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		domains = append(domains, h)
	}

	r := &HostRouter{domainList: domains}
	if len(domains) > 0 {
		r.trie = ahocorasick.NewTrieBuilder().AddStrings(domains).Build()
	}
	return r
}

// Hostnames returns the normalized allow-list.
func (r *HostRouter) Hostnames() []string {
	return append([]string(nil), r.domainList...)
}

// ShouldProxy reports whether rawURL's hostname is in the allow-list.
func (r *HostRouter) ShouldProxy(rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, NewProxyError(ErrCodeInvalidRequestURL, "cannot parse "+rawURL, err)
	}
	return r.ShouldProxyURL(u), nil
}

// ShouldProxyURL is ShouldProxy for an already parsed URL.
func (r *HostRouter) ShouldProxyURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	return r.MatchHost(u.Hostname())
}

// MatchHost reports whether host is exactly one of the configured hostnames.
func (r *HostRouter) MatchHost(host string) bool {
	if r.trie == nil {
		return false
	}

	host = normalizeHostname(host)
	for _, match := range r.trie.MatchString(host) {
		if host == r.domainList[match.Pattern()] {
			return true
		}
	}
	return false
}

func normalizeHostname(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

// hasProxyHost reports whether u points at a WebVPN host.
func hasProxyHost(u *url.URL) bool {
	return strings.HasPrefix(normalizeHostname(u.Hostname()), ProxyHostPrefix)
}

// parseAbsoluteURL rejects relative references and host-less URLs, neither of which can be encrypted as a Referer.
func parseAbsoluteURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, ErrNotAbsoluteURL
	}
	return u, nil
}
