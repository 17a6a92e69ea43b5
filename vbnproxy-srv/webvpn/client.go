package webvpn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/config"
	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
)

var log = logger.With("webvpn")

// loginResponse is the JSON body of POST /do-login.
type loginResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client holds one cookie-authenticated WebVPN session.
type Client struct {
	codec      *Codec
	creds      config.Credentials
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every request of the client, including sign-in.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithTransport replaces the underlying transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
	}
}

// NewClient creates a signed-out client for the portal described by codec.
func NewClient(codec *Codec, creds config.Credentials, opts ...Option) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		codec:      codec,
		creds:      creds,
		httpClient: &http.Client{Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) portalURL(path string) string {
	return c.codec.Portal() + path
}

// SignIn performs the local-account login of the portal. The session cookie
// ends up in the client's jar.
func (c *Client) SignIn(ctx context.Context) error {
	// The login page hands out the ticket cookie do-login expects.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.portalURL("/login"), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	drainAndClose(resp)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("login page returned status %d", resp.StatusCode)
	}

	form := url.Values{
		"auth_type":       {"local"},
		"username":        {c.creds.Username},
		"password":        {c.creds.Password},
		"sms_code":        {""},
		"captcha":         {""},
		"needCaptcha":     {"false"},
		"captcha_id":      {""},
		"remember_cookie": {"on"},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.portalURL("/do-login"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.portalURL("/login"))

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post credentials: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("do-login returned status %d", resp.StatusCode)
	}

	var result loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if !result.Success {
		reason := result.Message
		if reason == "" {
			reason = result.Error
		}
		return fmt.Errorf("login rejected for %s: %s", c.creds.Username, reason)
	}

	log.Debug("Signed in to %s as %s", c.codec.Portal(), c.creds.Username)
	return nil
}

// Fetch sends req to the portal address of req.URL with the session cookies.
// req is not modified.
func (c *Client) Fetch(req *http.Request) (*http.Response, error) {
	target, err := c.codec.EncryptURL(req.URL.String())
	if err != nil {
		return nil, fmt.Errorf("cannot route %s through WebVPN: %w", req.URL, err)
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	out.URL = u
	out.Host = ""
	out.RequestURI = ""

	log.Trace("Fetching %s as %s", req.URL, target)
	return c.httpClient.Do(out)
}

// EncryptURL delegates to the client's codec.
func (c *Client) EncryptURL(raw string) (string, error) {
	return c.codec.EncryptURL(raw)
}

// DecryptURL delegates to the client's codec.
func (c *Client) DecryptURL(raw string) (string, error) {
	return c.codec.DecryptURL(raw)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		log.Debug("Error closing response body: %v", err)
	}
}
