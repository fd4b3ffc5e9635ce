package loginmanager

import (
	"context"
	"errors"
	"net/url"
	"testing"

	admission "github.com/goliatone/go-admission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Login(ctx context.Context, req admission.LoginMessage) (*admission.LoginResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*admission.LoginResponse), args.Error(1)
}

func (m *MockAPI) Register(ctx context.Context, req admission.RegistrationRequest) (*admission.RegistrationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*admission.RegistrationResult), args.Error(1)
}

func (m *MockAPI) ApproveEmail(ctx context.Context, e, t string) (bool, error) {
	args := m.Called(ctx, e, t)
	return args.Bool(0), args.Error(1)
}

func TestManager_SignInSuccess(t *testing.T) {
	api := new(MockAPI)
	m := New(api)
	require.NoError(t, m.Init("http://localhost/login.html?bgc=%23000000"))

	api.On("Login", mock.Anything, mock.MatchedBy(func(req admission.LoginMessage) bool {
		return req.ID == "ann@acme.com" && req.Bgc == "#000000"
	})).Return(&admission.LoginResponse{
		TokenFlag: true,
		ID:        "ann@acme.com",
		Name:      "Ann",
		Org:       "Acme",
		Role:      admission.RoleAdmin,
		Domain:    "acme.com",
		Verified:  true,
		Token:     "jwt",
	}, nil)

	result := m.SignIn(context.Background(), "ann@acme.com", "secret", "")
	assert.Equal(t, OK, result)
	assert.Equal(t, StateAuthenticated, m.State())
	assert.True(t, m.IsAdmin())
	assert.Equal(t, "jwt", m.Token())
	assert.Equal(t, SessionUser{
		ID:       "ann@acme.com",
		Name:     "Ann",
		Org:      "Acme",
		Role:     admission.RoleAdmin,
		Domain:   "acme.com",
		Verified: true,
	}, m.SessionUser())
	api.AssertExpectations(t)
}

func TestManager_SignInUnverified(t *testing.T) {
	api := new(MockAPI)
	m := New(api)

	api.On("Login", mock.Anything, mock.Anything).Return(&admission.LoginResponse{
		TokenFlag: true,
		ID:        "bob@acme.com",
		Role:      admission.RoleUser,
	}, nil)

	assert.Equal(t, OKNotYetVerified, m.SignIn(context.Background(), "bob@acme.com", "pw", ""))
	assert.Equal(t, StateUnverified, m.State())
	assert.False(t, m.IsAdmin())
}

func TestManager_SignInFailures(t *testing.T) {
	cases := []struct {
		reason admission.LoginReason
		want   Result
	}{
		{admission.LoginReasonNotApproved, OKNotYetApproved},
		{admission.LoginReasonBadPassword, FailedPassword},
		{admission.LoginReasonBadID, FailedMissing},
		{admission.LoginReasonBadOTP, FailedOTP},
		{admission.LoginReasonDomain, DomainError},
		{admission.LoginReasonInternal, InternalError},
		{"somethingelse", InternalError},
	}

	for _, tc := range cases {
		t.Run(string(tc.reason), func(t *testing.T) {
			api := new(MockAPI)
			m := New(api)
			api.On("Login", mock.Anything, mock.Anything).
				Return(&admission.LoginResponse{Reason: tc.reason}, nil)

			assert.Equal(t, tc.want, m.SignIn(context.Background(), "x@acme.com", "pw", ""))
			assert.Equal(t, "", m.SessionUser().ID)
			assert.Empty(t, m.Token())
		})
	}
}

func TestManager_SignInTransportError(t *testing.T) {
	api := new(MockAPI)
	m := New(api)
	api.On("Login", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	assert.Equal(t, InternalError, m.SignIn(context.Background(), "x@acme.com", "pw", ""))
	assert.Equal(t, StateGuest, m.State())
}

func TestManager_Register(t *testing.T) {
	t.Run("token minted", func(t *testing.T) {
		api := new(MockAPI)
		m := New(api)
		m.SetLang("de")

		api.On("Register", mock.Anything, mock.MatchedBy(func(req admission.RegistrationRequest) bool {
			return req.Lang == "de" && req.BackgroundColor == DefaultBackgroundColor
		})).Return(&admission.RegistrationResult{
			Result:            true,
			TokenFlag:         true,
			Approved:          true,
			Role:              admission.RoleAdmin,
			Domain:            "acme.com",
			NeedsVerification: true,
			Token:             "jwt",
		}, nil)

		result := m.Register(context.Background(), RegisterInput{ID: "ann@acme.com", Name: "Ann", Org: "Acme", Password: "pw"})
		assert.Equal(t, OK, result)
		assert.Equal(t, StateAuthenticated, m.State())
		assert.Equal(t, "ann@acme.com", m.SessionUser().ID)
		assert.False(t, m.SessionUser().Verified)
		assert.True(t, m.IsAdmin())
	})

	t.Run("pending approval", func(t *testing.T) {
		api := new(MockAPI)
		m := New(api)
		api.On("Register", mock.Anything, mock.Anything).
			Return(&admission.RegistrationResult{Result: true, Approved: false}, nil)

		assert.Equal(t, OKNotYetApproved, m.Register(context.Background(), RegisterInput{ID: "bob@acme.com"}))
		assert.Equal(t, StatePendingApproval, m.State())
		assert.Empty(t, m.SessionUser().ID)
	})

	reasons := map[admission.Reason]Result{
		admission.ReasonExists:   FailedExists,
		admission.ReasonOTP:      FailedOTP,
		admission.ReasonSecurity: SecurityError,
		admission.ReasonDomain:   DomainError,
		admission.ReasonInternal: InternalError,
	}
	for reason, want := range reasons {
		t.Run(string(reason), func(t *testing.T) {
			api := new(MockAPI)
			m := New(api)
			api.On("Register", mock.Anything, mock.Anything).
				Return(&admission.RegistrationResult{Result: false, Reason: reason}, nil)

			assert.Equal(t, want, m.Register(context.Background(), RegisterInput{ID: "x@acme.com"}))
			assert.Equal(t, StateGuest, m.State())
		})
	}
}

func TestManager_LogoutRunsListenersAndKeepsLocale(t *testing.T) {
	api := new(MockAPI)
	m := New(api)
	m.SetLang("fr")

	api.On("Login", mock.Anything, mock.Anything).Return(&admission.LoginResponse{
		TokenFlag: true, ID: "ann@acme.com", Role: admission.RoleAdmin, Verified: true, Token: "jwt",
	}, nil)
	require.Equal(t, OK, m.SignIn(context.Background(), "ann@acme.com", "pw", ""))

	var calls []string
	m.AddLogoutListener("first", func(context.Context) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	m.AddLogoutListener("panics", func(context.Context) error {
		calls = append(calls, "panics")
		panic("bad listener")
	})
	m.AddLogoutListener("last", func(context.Context) error {
		calls = append(calls, "last")
		return nil
	})

	m.Logout(context.Background())

	assert.Equal(t, []string{"first", "panics", "last"}, calls)
	assert.Equal(t, StateGuest, m.State())
	assert.Equal(t, "", m.SessionUser().ID)
	assert.Equal(t, admission.RoleGuest, m.SessionUser().Role)
	assert.Empty(t, m.Token())
	assert.Equal(t, "fr", m.session.Snapshot().Lang)
}

func TestManager_SignInResetsLogoutListeners(t *testing.T) {
	api := new(MockAPI)
	m := New(api)
	api.On("Login", mock.Anything, mock.Anything).Return(&admission.LoginResponse{Reason: admission.LoginReasonBadPassword}, nil)

	called := false
	m.AddLogoutListener("stale", func(context.Context) error {
		called = true
		return nil
	})

	m.SignIn(context.Background(), "ann@acme.com", "pw", "")
	m.Logout(context.Background())

	assert.False(t, called)
}

func TestManager_Init(t *testing.T) {
	m := New(new(MockAPI))

	require.NoError(t, m.Init("http://localhost/index.html?manage=true"))
	assert.True(t, m.Manage())
	assert.Equal(t, DefaultBackgroundColor, m.session.Snapshot().Bgc)

	require.NoError(t, m.Init("http://localhost/index.html?bgc=blue"))
	assert.False(t, m.Manage())
	assert.Equal(t, "blue", m.session.Snapshot().Bgc)
}

func TestManager_VerifyEmailLink(t *testing.T) {
	const base = "http://localhost/index.html?.="

	api := new(MockAPI)
	m := New(api, WithLinkBase(base))

	link := admission.ActionURL(base, "http://localhost/approve.html", url.Values{"e": {"sealed-e"}, "t": {"sealed-t"}})
	api.On("ApproveEmail", mock.Anything, "sealed-e", "sealed-t").Return(true, nil).Once()

	assert.True(t, m.VerifyEmailLink(context.Background(), link))

	missing := admission.ActionURL(base, "http://localhost/approve.html", url.Values{"e": {"sealed-e"}})
	assert.False(t, m.VerifyEmailLink(context.Background(), missing))

	assert.False(t, m.VerifyEmailLink(context.Background(), "http://elsewhere/"))
	api.AssertNumberOfCalls(t, "ApproveEmail", 1)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateGuest, StateAuthenticated))
	assert.True(t, canTransition(StateUnverified, StateAuthenticated))
	assert.True(t, canTransition(StateAuthenticated, StateAuthenticated))
	assert.False(t, canTransition(StateAuthenticated, StatePendingApproval))
	assert.False(t, canTransition(StateUnverified, StatePendingApproval))

	err := checkTransition(StateAuthenticated, StatePendingApproval)
	require.Error(t, err)
	assert.True(t, admission.HasTextCode(err, textCodeInvalidTransition))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", OK.String())
	assert.Equal(t, "domain_error", DomainError.String())
	assert.Equal(t, 1, int(OK))
	assert.Equal(t, -9, int(DomainError))
	assert.True(t, OKNotYetApproved.Success())
	assert.True(t, OKNotYetVerified.Success())
	assert.False(t, FailedExists.Success())
}
