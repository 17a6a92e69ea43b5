package proxy

import (
	"net/http"
)

// Fetcher sends a request through the WebVPN. *Session implements it.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// RequestRewriter routes matching requests through the WebVPN session and
// rewrites their Referer so the target site sees a WebVPN origin.
type RequestRewriter struct {
	router  *HostRouter
	codec   URLCodec
	session Fetcher
}

// NewRequestRewriter creates a RequestRewriter. All arguments are read-only
// after construction, so one instance serves any number of concurrent requests.
func NewRequestRewriter(router *HostRouter, codec URLCodec, session Fetcher) *RequestRewriter {
	return &RequestRewriter{
		router:  router,
		codec:   codec,
		session: session,
	}
}

// Intercept implements RequestInterceptor.
//
// Requests for hosts outside the allow-list go to original untouched. All
// other requests are sent through the session; their Referer is replaced by
// its encrypted form unless it already points at a WebVPN host. req itself is
// never modified, the rewritten header goes into a clone.
func (rw *RequestRewriter) Intercept(req *http.Request, original FetchFunc) (*http.Response, error) {
	if !rw.router.ShouldProxyURL(req.URL) {
		return original(req)
	}

	out := req
	if referer := req.Header.Get("Referer"); referer != "" {
		if rewritten, err := rw.rewriteReferer(referer); err != nil {
			// The header stays as it is; the request itself is still valid.
			log.Warn("Keeping Referer %q for %s: %v", referer, req.URL, err)
		} else if rewritten != referer {
			out = req.Clone(req.Context())
			out.Header.Set("Referer", rewritten)
		}
	}

	log.Debug("Request %s with proxy.", req.URL)
	return rw.session.Fetch(out)
}

// rewriteReferer returns the value the Referer header should carry.
func (rw *RequestRewriter) rewriteReferer(referer string) (string, error) {
	u, err := parseAbsoluteURL(referer)
	if err != nil {
		return "", NewProxyError(ErrCodeRefererInvalid, "cannot parse Referer", err)
	}
	if hasProxyHost(u) {
		return referer, nil
	}

	encrypted, err := rw.codec.EncryptURL(referer)
	if err != nil {
		return "", NewProxyError(ErrCodeRefererEncrypt, "cannot encrypt Referer", err)
	}
	return encrypted, nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Transport returns an http.RoundTripper that intercepts every request and
// uses next for the passthrough path. A nil next means http.DefaultTransport.
func (rw *RequestRewriter) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return rw.Intercept(req, next.RoundTrip)
	})
}
