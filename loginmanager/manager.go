package loginmanager

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	admission "github.com/goliatone/go-admission"
)

const (
	SearchParamBgc    = "bgc"
	SearchParamManage = "manage"
)

// LogoutListener runs when the session signs out.
type LogoutListener func(ctx context.Context) error

type namedListener struct {
	name string
	fn   LogoutListener
}

// Manager drives a client session against the admission API.
type Manager struct {
	api     API
	session Session
	baseURL string
	logger  admission.Logger

	mu        sync.Mutex
	listeners []namedListener
}

// Option configures a Manager.
type Option func(*Manager)

// WithSession replaces the default MemorySession.
func WithSession(s Session) Option {
	return func(m *Manager) {
		if s != nil {
			m.session = s
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger admission.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLinkBase sets the base every emailed link starts with, needed by
// VerifyEmailLink.
func WithLinkBase(base string) Option {
	return func(m *Manager) {
		m.baseURL = base
	}
}

func New(api API, opts ...Option) *Manager {
	m := &Manager{
		api:     api,
		session: NewMemorySession(),
		logger:  admission.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init reads the background color and the manage flag from the landing URL.
func (m *Manager) Init(landing string) error {
	u, err := url.Parse(landing)
	if err != nil {
		return err
	}

	query := u.Query()
	bgc := query.Get(SearchParamBgc)
	if bgc == "" {
		bgc = DefaultBackgroundColor
	}
	manage, _ := strconv.ParseBool(query.Get(SearchParamManage))

	m.session.Update(func(s *SessionState) {
		s.Bgc = bgc
		s.Manage = manage
	})
	return nil
}

// SetLang sets the locale sent with registrations. It survives logout.
func (m *Manager) SetLang(lang string) {
	m.session.Update(func(s *SessionState) {
		s.Lang = lang
	})
}

// SignIn authenticates id and, when the server minted a token, fills the
// session in one update.
func (m *Manager) SignIn(ctx context.Context, id, password, otp string) Result {
	m.mu.Lock()
	m.listeners = nil
	m.mu.Unlock()

	resp, err := m.api.Login(ctx, admission.LoginMessage{
		ID:       id,
		Password: password,
		OTP:      otp,
		Bgc:      m.session.Snapshot().Bgc,
	})
	if err != nil || resp == nil {
		m.logger.Warn("unknown reason for login failure", "id", id, "error", err)
		return InternalError
	}

	if !resp.TokenFlag {
		result := fromLoginReason(resp.Reason)
		m.logger.Warn("login failed", "id", id, "reason", resp.Reason, "result", result)
		m.moveTo(result)
		return result
	}

	result := OKNotYetVerified
	if resp.Verified {
		result = OK
	}

	m.signedIn(result, SessionUser{
		ID:       resp.ID,
		Name:     resp.Name,
		Org:      resp.Org,
		Role:     resp.Role,
		Domain:   resp.Domain,
		Verified: resp.Verified,
	}, resp.Token)

	m.logger.Info("login succeeded", "id", id)
	return result
}

// RegisterInput is what a client collects on the registration form.
type RegisterInput struct {
	ID         string
	Name       string
	Org        string
	Password   string
	TOTPSecret string
	TOTPCode   string
}

// Register submits a self registration.
func (m *Manager) Register(ctx context.Context, in RegisterInput) Result {
	snap := m.session.Snapshot()

	resp, err := m.api.Register(ctx, admission.RegistrationRequest{
		ID:              in.ID,
		Name:            in.Name,
		Org:             in.Org,
		Password:        in.Password,
		TOTPSecret:      in.TOTPSecret,
		TOTPCode:        in.TOTPCode,
		Lang:            snap.Lang,
		BackgroundColor: snap.Bgc,
	})
	if err != nil || resp == nil {
		m.logger.Error("registration failed due to internal error", "id", in.ID, "error", err)
		return InternalError
	}

	switch {
	case !resp.Result:
		result := fromRegistrationReason(resp.Reason)
		m.logger.Error("registration failed", "id", in.ID, "reason", resp.Reason)
		return result
	case resp.TokenFlag:
		m.signedIn(OK, SessionUser{
			ID:       in.ID,
			Name:     in.Name,
			Org:      in.Org,
			Role:     resp.Role,
			Domain:   resp.Domain,
			Verified: !resp.NeedsVerification,
		}, resp.Token)
		m.logger.Info("registration succeeded", "id", in.ID)
		return OK
	default:
		m.logger.Warn("registration finished but not approved yet", "id", in.ID)
		m.moveTo(OKNotYetApproved)
		return OKNotYetApproved
	}
}

// AddLogoutListener registers fn to run on the next logout. Listeners are
// cleared on every sign in.
func (m *Manager) AddLogoutListener(name string, fn LogoutListener) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, namedListener{name: name, fn: fn})
}

// Logout runs every logout listener, then clears the identity keeping the
// locale and the landing options. A failing listener is logged and skipped.
func (m *Manager) Logout(ctx context.Context) {
	snap := m.session.Snapshot()
	m.logger.Info("logout", "id", snap.User.ID)

	m.mu.Lock()
	listeners := append([]namedListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		m.runLogoutListener(ctx, l)
	}

	m.session.Update(func(s *SessionState) {
		s.User = SessionUser{Role: admission.RoleGuest}
		s.Token = ""
		s.State = StateGuest
	})
}

func (m *Manager) runLogoutListener(ctx context.Context, l namedListener) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("logout listener panicked", "listener", l.name, "panic", fmt.Sprint(r))
		}
	}()
	if err := l.fn(ctx); err != nil {
		m.logger.Error("error calling logout listener", "listener", l.name, "error", err)
	}
}

// SessionUser returns the signed in identity, or a guest.
func (m *Manager) SessionUser() SessionUser {
	return m.session.Snapshot().User
}

// Token returns the session token minted by the server.
func (m *Manager) Token() string {
	return m.session.Snapshot().Token
}

// State reports where the session stands.
func (m *Manager) State() State {
	return m.session.Snapshot().State
}

// Manage reports whether the client landed from a manage link.
func (m *Manager) Manage() bool {
	return m.session.Snapshot().Manage
}

func (m *Manager) IsAdmin() bool {
	return admission.IsAdmin(m.session.Snapshot().User.Role)
}

// VerifyEmailLink confirms the address behind an emailed approval link.
// Links missing either sealed value are rejected without calling the API.
func (m *Manager) VerifyEmailLink(ctx context.Context, link string) bool {
	u, err := admission.DecodeActionURL(m.baseURL, link)
	if err != nil {
		m.logger.Warn("bad email approval link", "error", err)
		return false
	}

	e, t := u.Query().Get("e"), u.Query().Get("t")
	if e == "" || t == "" {
		return false
	}

	ok, err := m.api.ApproveEmail(ctx, e, t)
	if err != nil {
		m.logger.Error("email approval request failed", "error", err)
		return false
	}
	return ok
}

func (m *Manager) signedIn(result Result, user SessionUser, token string) {
	next, _ := stateFor(result)
	m.session.Update(func(s *SessionState) {
		if err := checkTransition(s.State, next); err != nil {
			m.logger.Warn("session transition rejected", "error", err)
			return
		}
		s.User = user
		s.Token = token
		s.State = next
	})
}

func (m *Manager) moveTo(result Result) {
	next, ok := stateFor(result)
	if !ok {
		return
	}
	m.session.Update(func(s *SessionState) {
		if err := checkTransition(s.State, next); err != nil {
			m.logger.Debug("session state unchanged", "error", err)
			return
		}
		s.State = next
	})
}
