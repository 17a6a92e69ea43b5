package proxy

import (
	"context"
	"net/http"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/notice"
)

// ProxyHostPrefix marks a hostname that already belongs to the WebVPN, i.e. a
// URL that has been wrapped by URLCodec.EncryptURL.
const ProxyHostPrefix = "webvpn."

// URLCodec converts between canonical URLs and WebVPN-wrapped URLs.
type URLCodec interface {
	EncryptURL(raw string) (string, error)
	DecryptURL(raw string) (string, error)
}

// Client is the WebVPN network client.
type Client interface {
	SignIn(ctx context.Context) error
	Fetch(req *http.Request) (*http.Response, error)
}

// FetchFunc performs a request without any further interception.
type FetchFunc func(*http.Request) (*http.Response, error)

// RequestInterceptor wraps a fetch. It either calls original or answers on its own.
type RequestInterceptor func(req *http.Request, original FetchFunc) (*http.Response, error)

// ResultInterceptor post-processes a fetch result in place.
type ResultInterceptor func(result *notice.FetchResult) error

// HookRegistry is implemented by the host application.
type HookRegistry interface {
	RegisterRequestInterceptor(fn RequestInterceptor)
	RegisterResultInterceptor(fn ResultInterceptor)
}
