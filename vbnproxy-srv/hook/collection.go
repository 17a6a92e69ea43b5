// Package hook is the host application's extension registry: request
// wrappers around the HTTP fetch and post-processors for fetch results.
package hook

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/notice"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/proxy"
)

// Collection holds the registered interceptors and implements proxy.HookRegistry.
type Collection struct {
	base         http.RoundTripper
	requestHooks []proxy.RequestInterceptor
	resultHooks  []proxy.ResultInterceptor
	hookMutex    sync.RWMutex
}

// NewCollection creates a Collection whose innermost fetch is base.
// A nil base means http.DefaultTransport.
func NewCollection(base http.RoundTripper) *Collection {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Collection{base: base}
}

// RegisterRequestInterceptor adds fn around the current request chain, so
// the most recently registered interceptor sees the request first.
func (c *Collection) RegisterRequestInterceptor(fn proxy.RequestInterceptor) {
	c.hookMutex.Lock()
	defer c.hookMutex.Unlock()
	c.requestHooks = append(c.requestHooks, fn)
	logger.Debug("Added request interceptor #%d", len(c.requestHooks))
}

// RegisterResultInterceptor appends fn to the result post-processors.
func (c *Collection) RegisterResultInterceptor(fn proxy.ResultInterceptor) {
	c.hookMutex.Lock()
	defer c.hookMutex.Unlock()
	c.resultHooks = append(c.resultHooks, fn)
	logger.Debug("Added result interceptor #%d", len(c.resultHooks))
}

// Request sends req through all request interceptors and finally the base transport.
func (c *Collection) Request(req *http.Request) (*http.Response, error) {
	c.hookMutex.RLock()
	hooks := c.requestHooks
	c.hookMutex.RUnlock()

	fetch := proxy.FetchFunc(c.base.RoundTrip)
	for _, hook := range hooks {
		inner, h := fetch, hook
		fetch = func(r *http.Request) (*http.Response, error) {
			return h(r, inner)
		}
	}
	return fetch(req)
}

// AfterFetch runs every result interceptor in registration order. A failing
// interceptor does not stop the ones after it; all errors are returned joined.
func (c *Collection) AfterFetch(result *notice.FetchResult) error {
	c.hookMutex.RLock()
	hooks := c.resultHooks
	c.hookMutex.RUnlock()

	var errs []error
	for i, hook := range hooks {
		if err := hook(result); err != nil {
			logger.Warn("Result interceptor #%d reported: %v", i+1, err)
			errs = append(errs, fmt.Errorf("result interceptor #%d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

type transport struct {
	c *Collection
}

func (t transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.c.Request(req)
}

// Transport exposes the request chain as an http.RoundTripper.
func (c *Collection) Transport() http.RoundTripper {
	return transport{c: c}
}

// Client returns an http.Client whose requests pass through the chain.
func (c *Collection) Client() *http.Client {
	return &http.Client{Transport: c.Transport()}
}
