package proxy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/codefionn/vbnproxy/vbnproxy-srv/config"
)

// PluginState is the process-wide lifecycle of the WebVPN plugin.
type PluginState int32

const (
	PluginUninitialized PluginState = iota
	PluginSigningIn
	PluginReady
	PluginFailed
)

func (s PluginState) String() string {
	switch s {
	case PluginUninitialized:
		return "uninitialized"
	case PluginSigningIn:
		return "signing-in"
	case PluginReady:
		return "ready"
	case PluginFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Setup carries everything the plugin needs to start.
type Setup struct {
	Config      config.ProxyConfig
	Credentials config.Credentials
	// NewClient builds the WebVPN client. It is only called once the
	// credentials are known to be complete.
	NewClient func(config.Credentials) (Client, error)
	Codec     URLCodec
	Registry  HookRegistry
}

// Plugin owns the session and the two interceptors. It is created once at
// startup and handed to whoever needs it; there is no package-level instance.
type Plugin struct {
	setup Setup
	state atomic.Int32

	mu       sync.Mutex
	err      error
	session  *Session
	router   *HostRouter
	requests *RequestRewriter
	notices  *NoticeRewriter
}

// NewPlugin returns an uninitialized plugin. Call Start exactly once.
func NewPlugin(setup Setup) *Plugin {
	return &Plugin{setup: setup}
}

// Init creates a plugin and starts it. On error nothing has been registered.
func Init(ctx context.Context, setup Setup) (*Plugin, error) {
	p := NewPlugin(setup)
	if err := p.Start(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// State returns the current lifecycle state.
func (p *Plugin) State() PluginState {
	return PluginState(p.state.Load())
}

// Err returns the reason the plugin failed, or nil.
func (p *Plugin) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Session returns the signed-in session once the plugin is ready.
func (p *Plugin) Session() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Router returns the host router built from the configured match list.
func (p *Plugin) Router() *HostRouter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.router
}

// Start runs the one-time initialization: credentials check, sign-in,
// warm-up and hook registration, in that order. Interceptors are only
// registered when everything before them succeeded. Failure is terminal.
func (p *Plugin) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PluginUninitialized), int32(PluginSigningIn)) {
		return NewProxyError(ErrCodeAlreadyStarted, "plugin state is "+p.State().String(), nil)
	}

	s := p.setup
	if err := s.Credentials.Validate(); err != nil {
		return p.fail(NewProxyError(ErrCodeMissingCredentials, "cannot sign in", err))
	}
	if s.NewClient == nil || s.Codec == nil || s.Registry == nil {
		return p.fail(NewProxyError(ErrCodeInvalidSetup, "client factory, codec and registry are required", nil))
	}

	router := NewHostRouter(s.Config.Match)

	client, err := s.NewClient(s.Credentials)
	if err != nil {
		return p.fail(NewProxyError(ErrCodeClientCreateFailed, "cannot create WebVPN client", err))
	}

	session := NewSession(client)
	if err := session.SignIn(ctx); err != nil {
		return p.fail(err)
	}
	log.Info("Signed in successfully.")

	session.WarmUp(ctx, s.Config.WarmupURL)

	requests := NewRequestRewriter(router, s.Codec, session)
	notices := NewNoticeRewriter(s.Codec)

	p.mu.Lock()
	p.session = session
	p.router = router
	p.requests = requests
	p.notices = notices
	p.mu.Unlock()

	s.Registry.RegisterRequestInterceptor(requests.Intercept)
	s.Registry.RegisterResultInterceptor(notices.Normalize)

	p.state.Store(int32(PluginReady))
	log.Info("Routing %d hostname(s) through the WebVPN", len(router.Hostnames()))
	return nil
}

func (p *Plugin) fail(err error) error {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.state.Store(int32(PluginFailed))
	log.Error("Initialization failed (%s): %v", GetErrorDescription(GetErrorCode(err)), err)
	return err
}
