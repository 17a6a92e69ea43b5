package webvpn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/config"
)

// fakePortal mimics the login flow and the URL-wrapped fetch of a WRD portal.
type fakePortal struct {
	server   *httptest.Server
	codec    *Codec
	logins   atomic.Int32
	password string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{password: "secret"}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "wengine_vpn_ticket", Value: "ticket-1", Path: "/"})
		_, _ = io.WriteString(w, "<html>login</html>")
	})
	mux.HandleFunc("/do-login", func(w http.ResponseWriter, r *http.Request) {
		p.logins.Add(1)
		if _, err := r.Cookie("wengine_vpn_ticket"); err != nil {
			http.Error(w, "no ticket", http.StatusForbidden)
			return
		}
		ok := r.FormValue("auth_type") == "local" &&
			r.FormValue("username") == "1120200000" &&
			r.FormValue("password") == p.password
		resp := loginResponse{Success: ok}
		if ok {
			http.SetCookie(w, &http.Cookie{Name: "wengine_vpn_ticket", Value: "ticket-signed-in", Path: "/"})
		} else {
			resp.Message = "用户名或密码错误"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ticket, err := r.Cookie("wengine_vpn_ticket")
		if err != nil || ticket.Value != "ticket-signed-in" {
			http.Error(w, "not signed in", http.StatusUnauthorized)
			return
		}
		canonical, err := p.codec.DecryptURL("http://" + r.Host + r.URL.RequestURI())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("X-Canonical", canonical)
		w.Header().Set("X-Referer", r.Header.Get("Referer"))
		_, _ = io.WriteString(w, "ok")
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	codec, err := NewCodec(p.server.URL, "")
	require.NoError(t, err)
	p.codec = codec
	return p
}

func (p *fakePortal) client(t *testing.T, password string) *Client {
	t.Helper()
	c, err := NewClient(p.codec, config.Credentials{Username: "1120200000", Password: password}, WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func TestClientSignInAndFetch(t *testing.T) {
	portal := newFakePortal(t)
	c := portal.client(t, "secret")

	require.NoError(t, c.SignIn(context.Background()))
	assert.Equal(t, int32(1), portal.logins.Load())

	req := httptest.NewRequest(http.MethodGet, "https://lib.bit.edu.cn/search?x=1", http.NoBody)
	req.Header.Set("Referer", "https://bit.edu.cn/")

	resp, err := c.Fetch(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://lib.bit.edu.cn/search?x=1", resp.Header.Get("X-Canonical"))
	assert.Equal(t, "https://bit.edu.cn/", resp.Header.Get("X-Referer"))
	assert.Equal(t, "https://lib.bit.edu.cn/search?x=1", req.URL.String(), "request must not be modified")
}

func TestClientSignInRejected(t *testing.T) {
	portal := newFakePortal(t)
	c := portal.client(t, "wrong")

	err := c.SignIn(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login rejected")
	assert.Contains(t, err.Error(), "用户名或密码错误")
}

func TestClientFetchWithoutSignIn(t *testing.T) {
	portal := newFakePortal(t)
	c := portal.client(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "https://lib.bit.edu.cn/", http.NoBody)
	resp, err := c.Fetch(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClientSignInUnreachable(t *testing.T) {
	portal := newFakePortal(t)
	c := portal.client(t, "secret")
	portal.server.Close()

	err := c.SignIn(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open login page")
}

func TestClientImplementsCodec(t *testing.T) {
	portal := newFakePortal(t)
	c := portal.client(t, "secret")

	enc, err := c.EncryptURL("https://bit.edu.cn/")
	require.NoError(t, err)
	dec, err := c.DecryptURL(enc)
	require.NoError(t, err)
	assert.Equal(t, "https://bit.edu.cn/", dec)
}
