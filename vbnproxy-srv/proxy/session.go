package proxy

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/logger"
)

// SessionState is the lifecycle state of a Session.
type SessionState int32

const (
	SessionSignedOut SessionState = iota
	SessionSigningIn
	SessionSignedIn
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionSignedOut:
		return "signed-out"
	case SessionSigningIn:
		return "signing-in"
	case SessionSignedIn:
		return "signed-in"
	case SessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var log = logger.With("proxy")

// Session is the single authenticated WebVPN session of the process.
// It signs in at most once; SignedIn and Failed are terminal.
type Session struct {
	client Client
	state  atomic.Int32
}

// NewSession wraps client in a signed-out session.
func NewSession(client Client) *Session {
	return &Session{client: client}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// SignIn authenticates once. Any later call fails without network activity.
func (s *Session) SignIn(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(SessionSignedOut), int32(SessionSigningIn)) {
		return NewProxyError(ErrCodeAlreadySignedIn,
			"sign-in is only allowed once (state "+s.State().String()+")", ErrAlreadySignedIn)
	}

	if err := s.client.SignIn(ctx); err != nil {
		s.state.Store(int32(SessionFailed))
		return NewProxyError(ErrCodeSignInFailed, "WebVPN sign-in failed", err)
	}

	s.state.Store(int32(SessionSignedIn))
	return nil
}

// Fetch sends req through the authenticated WebVPN channel.
func (s *Session) Fetch(req *http.Request) (*http.Response, error) {
	if state := s.State(); state != SessionSignedIn {
		return nil, NewProxyError(ErrCodeSessionNotReady,
			"cannot fetch "+req.URL.String()+" in state "+state.String(), ErrSessionNotReady)
	}
	return s.client.Fetch(req)
}

// WarmUp issues a throw-away request through the session. Some sites only
// serve their inner pages once the session has made any proxied request.
// Errors are logged and otherwise ignored.
func (s *Session) WarmUp(ctx context.Context, rawURL string) {
	if rawURL == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		log.Warn("Skipping warm-up request to %s: %v", rawURL, err)
		return
	}

	resp, err := s.Fetch(req)
	if err != nil {
		log.Warn("Warm-up request to %s failed: %v", rawURL, err)
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug("Error closing warm-up response body: %v", closeErr)
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug("Warm-up request to %s finished with status %d", rawURL, resp.StatusCode)
}
