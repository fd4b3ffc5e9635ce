package admission

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// LoginReason is the outcome code of a failed login.
type LoginReason string

const (
	LoginReasonNone        LoginReason = ""
	LoginReasonNotApproved LoginReason = "notapproved"
	LoginReasonBadPassword LoginReason = "badpw"
	LoginReasonBadID       LoginReason = "badid"
	LoginReasonBadOTP      LoginReason = "badotp"
	LoginReasonDomain      LoginReason = "domainerror"
	LoginReasonInternal    LoginReason = "internal"
)

// CredentialStore finds users with their credentials.
type CredentialStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
}

// LoginMessage payload
type LoginMessage struct {
	ID       string `json:"id"`
	Password string `json:"password"`
	OTP      string `json:"otp"`
	Bgc      string `json:"bgc,omitempty"`
	ClientIP string `json:"-"`

	OnResponse func(resp *LoginResponse) `json:"-"`
}

func (e LoginMessage) Type() string { return "user.login" }

// Validate will run validation rules
func (e LoginMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, validation.Match(EmailPattern)),
		validation.Field(&e.Password, validation.Required),
	)
}

// LoginResponse is what the client receives. TokenFlag is set only when a
// session token was minted.
type LoginResponse struct {
	TokenFlag bool        `json:"tokenflag"`
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Org       string      `json:"org,omitempty"`
	Role      UserRole    `json:"role,omitempty"`
	Domain    string      `json:"domain,omitempty"`
	Verified  bool        `json:"verified"`
	Reason    LoginReason `json:"reason,omitempty"`
	Token     string      `json:"token,omitempty"`
}

// LoginHandler authenticates identities and mints session tokens.
type LoginHandler struct {
	store      CredentialStore
	repo       IdentityRepository
	classifier *DomainClassifier
	totp       TOTPValidator
	passwords  PasswordAuthenticator
	tokens     *TokenService
	jobs       JobQueue
	cfg        *Config
	metrics    *Metrics
	activity   ActivitySink
	now        func() time.Time
	logger     Logger
}

// NewLoginHandler creates the handler.
func NewLoginHandler(cfg *Config, store CredentialStore, repo IdentityRepository, classifier *DomainClassifier, tokens *TokenService, logger Logger) *LoginHandler {
	if logger == nil {
		logger = defaultLogger()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &LoginHandler{
		store:      store,
		repo:       repo,
		classifier: classifier,
		totp:       NewTOTP(),
		passwords:  BcryptAuthenticator,
		tokens:     tokens,
		jobs:       NewTimerQueue(logger),
		cfg:        cfg,
		activity:   noopActivitySink{},
		now:        time.Now,
		logger:     logger,
	}
}

// WithTOTP overrides the one time code validator.
func (h *LoginHandler) WithTOTP(v TOTPValidator) *LoginHandler {
	if v != nil {
		h.totp = v
	}
	return h
}

// WithPasswordAuthenticator overrides how password hashes are compared.
func (h *LoginHandler) WithPasswordAuthenticator(p PasswordAuthenticator) *LoginHandler {
	if p != nil {
		h.passwords = p
	}
	return h
}

// WithJobs sets the queue that records login stats.
func (h *LoginHandler) WithJobs(q JobQueue) *LoginHandler {
	if q != nil {
		h.jobs = q
	}
	return h
}

// WithMetrics counts login outcomes.
func (h *LoginHandler) WithMetrics(m *Metrics) *LoginHandler {
	h.metrics = m
	return h
}

// WithActivitySink publishes login events.
func (h *LoginHandler) WithActivitySink(sink ActivitySink) *LoginHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *LoginHandler) Execute(ctx context.Context, event LoginMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login",
		)
	default:
	}

	resp, err := h.login(ctx, event)
	h.metrics.login(resp.Reason)

	eventType := ActivityEventLoginSuccess
	if resp.Reason != LoginReasonNone {
		eventType = ActivityEventLoginFailure
	}
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType:  eventType,
		UserID:     event.ID,
		Org:        resp.Org,
		Metadata:   map[string]any{"reason": string(resp.Reason)},
		OccurredAt: h.now(),
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return err
}

func (h *LoginHandler) login(ctx context.Context, event LoginMessage) (*LoginResponse, error) {
	if err := event.Validate(); err != nil {
		return &LoginResponse{Reason: LoginReasonBadID}, wrapAs(err, ErrInvalidRequest, map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
	}

	user, err := h.store.FindUser(ctx, event.ID)
	if err != nil {
		if HasTextCode(err, TextCodeIDDoesntExist) {
			h.logger.Warn("bad id given for login", "id", event.ID)
			return &LoginResponse{Reason: LoginReasonBadID}, err
		}
		h.logger.Error("login failed looking up user", "id", event.ID, "error", err)
		return &LoginResponse{Reason: LoginReasonInternal}, err
	}

	if err := h.passwords.ComparePasswordAndHash(event.Password, user.PasswordHash); err != nil {
		h.logger.Warn("bad password for login", "id", event.ID)
		return &LoginResponse{Reason: LoginReasonBadPassword}, err
	}

	allowed, err := h.classifier.Allow(ctx, user.Domain)
	if err != nil {
		return &LoginResponse{Reason: LoginReasonInternal}, err
	}
	if !allowed {
		h.logger.Warn("domain error for login", "id", event.ID, "domain", user.Domain)
		return &LoginResponse{Reason: LoginReasonDomain}, withDetails(ErrDomainNotAllowed, map[string]any{"id": event.ID})
	}

	if strings.TrimSpace(user.TOTPSecret) != "" && !h.totp.Validate(event.OTP, user.TOTPSecret) {
		h.logger.Warn("bad otp given for login", "id", event.ID)
		return &LoginResponse{Reason: LoginReasonBadOTP}, withDetails(ErrOTPMismatch, map[string]any{"id": event.ID})
	}

	rec := user.Record()
	if !rec.Approved {
		h.logger.Warn("login ok but not approved yet", "id", event.ID)
		return &LoginResponse{Reason: LoginReasonNotApproved}, withDetails(ErrNotApproved, map[string]any{"id": event.ID})
	}

	token, err := h.tokens.Generate(rec)
	if err != nil {
		h.logger.Error("failed to mint session token", "id", event.ID, "error", err)
		return &LoginResponse{Reason: LoginReasonInternal}, err
	}

	id, ip, at := rec.ID, event.ClientIP, h.now().UnixMilli()
	h.jobs.Schedule("login_stats", h.cfg.loginUpdateDelay(), func(ctx context.Context) error {
		return h.repo.UpdateLoginStats(ctx, id, at, ip)
	})

	h.logger.Info("login succeeded", "id", rec.ID)
	return &LoginResponse{
		TokenFlag: true,
		ID:        rec.ID,
		Name:      rec.Name,
		Org:       rec.Org,
		Role:      rec.Role,
		Domain:    rec.Domain,
		Verified:  rec.Verified,
		Token:     token,
	}, nil
}
