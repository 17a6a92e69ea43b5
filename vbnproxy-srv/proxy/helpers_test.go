package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/notice"
)

const testPortal = "https://webvpn.bit.edu.cn"

// testCodec wraps URLs reversibly under /enc/ on the portal host. Other portal
// paths decode to the same path on origin.bit.edu.cn.
type testCodec struct{}

func (testCodec) EncryptURL(raw string) (string, error) {
	return testPortal + "/enc/" + url.QueryEscape(raw), nil
}

func (testCodec) DecryptURL(raw string) (string, error) {
	rest, ok := strings.CutPrefix(raw, testPortal)
	if !ok {
		return "", errors.New("not a portal URL")
	}
	if enc, ok := strings.CutPrefix(rest, "/enc/"); ok {
		return url.QueryUnescape(enc)
	}
	return "https://origin.bit.edu.cn" + rest, nil
}

type failingCodec struct{}

func (failingCodec) EncryptURL(string) (string, error) { return "", errors.New("encrypt failed") }
func (failingCodec) DecryptURL(string) (string, error) { return "", errors.New("decrypt failed") }

// fakeClient records every call instead of touching the network.
type fakeClient struct {
	mu          sync.Mutex
	signIns     int
	signInErr   error
	fetched     []*http.Request
	fetchErr    error
	fetchStatus int
}

func (c *fakeClient) SignIn(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signIns++
	return c.signInErr
}

func (c *fakeClient) Fetch(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = append(c.fetched, req)
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	status := c.fetchStatus
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"X-Via": []string{"webvpn"}},
		Body:       io.NopCloser(strings.NewReader("proxied")),
		Request:    req,
	}, nil
}

func (c *fakeClient) calls() (signIns int, fetched []*http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signIns, append([]*http.Request(nil), c.fetched...)
}

type fakeRegistry struct {
	requests []RequestInterceptor
	results  []ResultInterceptor
}

func (r *fakeRegistry) RegisterRequestInterceptor(fn RequestInterceptor) {
	r.requests = append(r.requests, fn)
}

func (r *fakeRegistry) RegisterResultInterceptor(fn ResultInterceptor) {
	r.results = append(r.results, fn)
}

// originalFetch stands in for the host's unintercepted fetch.
type originalFetch struct {
	calls []*http.Request
}

func (o *originalFetch) fetch(req *http.Request) (*http.Response, error) {
	o.calls = append(o.calls, req)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"X-Via": []string{"direct"}},
		Body:       io.NopCloser(strings.NewReader("direct")),
		Request:    req,
	}, nil
}

func signedInSession(client *fakeClient) *Session {
	s := NewSession(client)
	if err := s.SignIn(context.Background()); err != nil {
		panic(err)
	}
	return s
}

func newNotice(id, link string) *notice.Notice {
	return &notice.Notice{ID: id, Link: link}
}
