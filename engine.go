package admission

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Engine decides whether a registration is admitted and with which role,
// approval and verification status.
type Engine struct {
	repo       IdentityRepository
	classifier *DomainClassifier
	totp       TOTPValidator
	notifier   *Notifier
	sealer     *LinkSealer
	listeners  *ListenerRegistry
	jobs       JobQueue
	cfg        *Config
	metrics    *Metrics
	activity   ActivitySink
	now        func() time.Time
	logger     Logger
	provider   LoggerProvider
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineListeners sets the new-user listener registry.
func WithEngineListeners(r *ListenerRegistry) EngineOption {
	return func(e *Engine) {
		e.listeners = r
	}
}

// WithEngineJobs sets the queue running deferred side effects.
func WithEngineJobs(q JobQueue) EngineOption {
	return func(e *Engine) {
		if q != nil {
			e.jobs = q
		}
	}
}

// WithEngineTOTP overrides the one time code validator.
func WithEngineTOTP(v TOTPValidator) EngineOption {
	return func(e *Engine) {
		if v != nil {
			e.totp = v
		}
	}
}

// WithEngineMetrics records admission outcomes.
func WithEngineMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEngineActivitySink publishes admission events.
func WithEngineActivitySink(sink ActivitySink) EngineOption {
	return func(e *Engine) {
		e.activity = normalizeActivitySink(sink)
	}
}

// WithEngineClock injects a custom clock (useful for tests).
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEngineLoggerProvider resolves the engine logger from provider.
func WithEngineLoggerProvider(provider LoggerProvider) EngineOption {
	return func(e *Engine) {
		e.provider, e.logger = ResolveLogger("admission.engine", provider, e.logger)
	}
}

// NewEngine wires the admission pipeline. Deferred jobs run on a TimerQueue
// unless WithEngineJobs provides another queue.
func NewEngine(cfg *Config, repo IdentityRepository, classifier *DomainClassifier, notifier *Notifier, sealer *LinkSealer, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	provider, logger := ResolveLogger("admission.engine", nil, nil)
	e := &Engine{
		repo:       repo,
		classifier: classifier,
		totp:       NewTOTP(),
		notifier:   notifier,
		sealer:     sealer,
		cfg:        cfg,
		activity:   noopActivitySink{},
		now:        time.Now,
		logger:     logger,
		provider:   provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.jobs == nil {
		e.jobs = NewTimerQueue(e.logger).WithMetrics(e.metrics)
	}
	return e
}

// admission is the state carried between pipeline steps.
type admission struct {
	req        RegistrationRequest
	byAdmin    bool
	domain     string
	rootOrg    string
	unknown    bool
	role       UserRole
	approved   bool
	verify     bool
	firstInOrg bool
}

// Admit runs the registration pipeline. A rejected registration returns a
// result with Result false and its Reason, together with the error that
// caused it.
func (e *Engine) Admit(ctx context.Context, req RegistrationRequest, byAdmin bool) (*RegistrationResult, error) {
	start := time.Now()
	res, err := e.admit(ctx, req, byAdmin)

	label := res.Reason
	if err != nil && label == ReasonNone {
		label = "invalid"
	}
	e.metrics.admitted(label, byAdmin, start)

	if err != nil {
		recordActivity(ctx, e.activity, e.logger, ActivityEvent{
			EventType:  ActivityEventRejected,
			UserID:     req.ID,
			Org:        req.Org,
			Reason:     res.Reason,
			OccurredAt: e.now(),
		})
		return res, err
	}

	recordActivity(ctx, e.activity, e.logger, ActivityEvent{
		EventType: ActivityEventRegistered,
		UserID:    res.ID,
		Org:       res.Org,
		Metadata: map[string]any{
			"role":     res.Role,
			"approved": res.Approved,
			"by_admin": byAdmin,
		},
		OccurredAt: e.now(),
	})
	return res, nil
}

func (e *Engine) admit(ctx context.Context, req RegistrationRequest, byAdmin bool) (*RegistrationResult, error) {
	validate := req.ValidateSelfService
	if byAdmin {
		validate = req.ValidateAdmin
	}
	if err := validate(); err != nil {
		e.logger.Error("registration validation failure", "id", req.ID, "error", err)
		return rejected(ReasonNone), wrapAs(err, ErrInvalidRequest, map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
	}

	e.logger.Debug("got register request", "id", req.ID)
	a := &admission{req: req, byAdmin: byAdmin, domain: DomainOf(req.ID)}

	steps := []func(context.Context, *admission) error{
		e.checkDomainAllowed,
		e.checkTOTP,
		e.normalizeOrg,
		e.checkOrgDomainMatch,
		e.classify,
		e.assignStatus,
	}
	for _, step := range steps {
		if err := step(ctx, a); err != nil {
			return rejected(ReasonFromError(err)), err
		}
	}

	rec, err := e.repo.Register(ctx, NewUser{
		ID:          a.req.ID,
		Name:        a.req.Name,
		Org:         a.req.Org,
		Password:    a.req.Password,
		TOTPSecret:  a.req.TOTPSecret,
		Role:        a.role,
		Approved:    a.approved,
		VerifyEmail: a.verify,
		Domain:      a.domain,
	})
	if err != nil {
		if HasTextCode(err, TextCodeIDExists) {
			e.logger.Error("unable to register, id exists already", "id", a.req.ID)
			return rejected(ReasonExists), err
		}
		e.logger.Error("unable to register, db error", "id", a.req.ID, "error", err)
		if !HasTextCode(err, TextCodeInternalError) {
			err = wrapAs(err, ErrAdmissionAborted, map[string]any{"id": a.req.ID, "stage": "persist"})
		}
		return rejected(ReasonInternal), err
	}

	if a.unknown && rec.Role == RoleAdmin {
		if ok, err := e.notifier.SendUnknownOrgNotice(ctx, rec, a.req.Lang, a.req.BackgroundColor); err != nil || !ok {
			e.logger.Error("unable to send unknown org notice", "id", rec.ID, "error", err)
			e.metrics.bestEffortFailed("unknown_org_notice")
		}
	}

	if !e.listeners.Notify(ctx, rec) {
		e.logger.Error("listener veto, dropping the id", "id", rec.ID, "org", rec.Org)
		e.compensate(ctx, rec.ID, "listener_veto")
		return rejected(ReasonInternal), withDetails(ErrAdmissionAborted, map[string]any{
			"id":    rec.ID,
			"stage": "listeners",
		})
	}

	if a.verify {
		if err := e.sendVerification(ctx, rec, a.req); err != nil {
			e.logger.Error("unable to register, verification email error", "id", rec.ID, "error", err)
			e.compensate(ctx, rec.ID, "verification_email")
			return rejected(ReasonInternal), wrapAs(err, ErrAdmissionAborted, map[string]any{
				"id":    rec.ID,
				"stage": "verification_email",
			})
		}
	}

	e.logger.Info("user registered", "id", rec.ID, "name", rec.Name, "approved", rec.Approved)
	e.scheduleFollowUps(rec, a)

	return &RegistrationResult{
		Result:            true,
		ID:                rec.ID,
		Name:              rec.Name,
		Org:               rec.Org,
		Role:              rec.Role,
		Domain:            rec.Domain,
		Approved:          rec.Approved,
		NeedsVerification: a.verify,
		TokenFlag:         rec.Approved,
	}, nil
}

func (e *Engine) checkDomainAllowed(ctx context.Context, a *admission) error {
	allowed, err := e.classifier.Allow(ctx, a.domain)
	if err != nil {
		return err
	}
	if !allowed {
		e.logger.Error("unable to register, domain is not allowed", "id", a.req.ID, "domain", a.domain)
		return withDetails(ErrDomainNotAllowed, map[string]any{"id": a.req.ID, "domain": a.domain})
	}
	return nil
}

func (e *Engine) checkTOTP(_ context.Context, a *admission) error {
	if a.byAdmin {
		return nil
	}
	if !e.totp.Validate(a.req.TOTPCode, a.req.TOTPSecret) {
		e.logger.Error("unable to register, wrong totp code", "id", a.req.ID)
		return withDetails(ErrOTPMismatch, map[string]any{"id": a.req.ID})
	}
	return nil
}

// normalizeOrg rewrites an org that is not a known sub org of the domain's
// root org to the root org. Without a root org this is the first
// registration for the domain and the org is kept.
func (e *Engine) normalizeOrg(ctx context.Context, a *admission) error {
	root, err := e.repo.GetRootOrgForDomain(ctx, a.domain)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve root org for domain")
	}
	a.rootOrg = root
	if root == "" {
		return nil
	}

	subOrgs, err := e.repo.GetSubOrgs(ctx, root)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list sub orgs")
	}
	if !containsFold(subOrgs, a.req.Org) {
		e.logger.Info("adjusted org to root org", "id", a.req.ID, "from", a.req.Org, "to", root)
		a.req.Org = root
	}
	return nil
}

func (e *Engine) checkOrgDomainMatch(ctx context.Context, a *admission) error {
	org, err := e.repo.GetRootOrg(ctx, a.req.Org)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve root org")
	}
	if org == "" {
		org = a.req.Org
	}

	domains, err := e.repo.GetDomainsForOrg(ctx, org)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list org domains")
	}
	if len(domains) == 0 || containsFold(domains, a.domain) {
		return nil
	}

	e.logger.Error("unable to register, org and domain mismatch", "id", a.req.ID, "org", a.req.Org)
	return withDetails(ErrOrgDomainMismatch, map[string]any{
		"id":     a.req.ID,
		"org":    a.req.Org,
		"domain": a.domain,
	})
}

func (e *Engine) classify(ctx context.Context, a *admission) error {
	c, err := e.classifier.Classify(ctx, a.domain)
	if err != nil {
		return err
	}
	a.unknown = c.Unknown()
	return nil
}

func (e *Engine) assignStatus(ctx context.Context, a *admission) error {
	if a.byAdmin {
		a.role = a.req.Role
		a.approved = a.req.Approved
		a.verify = a.req.VerifyEmail
		return nil
	}

	a.firstInOrg = true
	if a.rootOrg != "" {
		users, err := e.repo.GetUsersForRootOrg(ctx, a.rootOrg)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users for root org")
		}
		a.firstInOrg = len(users) == 0
	}

	a.role = RoleUser
	if a.firstInOrg {
		a.role = RoleAdmin
	}

	a.approved = true
	if e.cfg.NewUsersNeedApprovalFromAdmin {
		a.approved = a.firstInOrg
	}
	if a.unknown {
		a.approved = false
	}

	a.verify = e.cfg.VerifyEmailOnRegistration
	return nil
}

func (e *Engine) sendVerification(ctx context.Context, rec *UserRecord, req RegistrationRequest) error {
	token, err := e.sealer.IssueApprovalToken(rec.ID, e.now().Unix())
	if err != nil {
		return err
	}
	ok, err := e.notifier.SendVerification(ctx, rec, token, req.Lang, req.BackgroundColor)
	if err != nil {
		return err
	}
	if !ok {
		return goerrors.New("verification email was not accepted", goerrors.CategoryOperation)
	}
	return nil
}

// compensate deletes a record persisted by a registration that failed
// afterwards. A failed delete leaves an orphan and is only logged.
func (e *Engine) compensate(ctx context.Context, id, trigger string) {
	err := e.repo.DeleteUser(ctx, id)
	e.metrics.compensated(trigger, err)
	if err != nil {
		e.logger.Error("unable to delete user, manual cleanup is required", "id", id, "trigger", trigger, "error", err)
	}
	recordActivity(ctx, e.activity, e.logger, ActivityEvent{
		EventType:  ActivityEventRolledBack,
		UserID:     id,
		Reason:     ReasonInternal,
		Metadata:   map[string]any{"trigger": trigger, "deleted": err == nil},
		OccurredAt: e.now(),
	})
}

func (e *Engine) scheduleFollowUps(rec *UserRecord, a *admission) {
	if rec.Approved && !a.byAdmin {
		id, ip, at := rec.ID, a.req.ClientIP, e.now().UnixMilli()
		e.jobs.Schedule("login_stats", e.cfg.loginUpdateDelay(), func(ctx context.Context) error {
			return e.repo.UpdateLoginStats(ctx, id, at, ip)
		})
	}

	if !rec.Approved {
		record, lang, bgc := *rec, a.req.Lang, a.req.BackgroundColor
		e.jobs.Schedule("notify_admins", e.cfg.notifyDelay(), func(ctx context.Context) error {
			return e.notifyAdmins(ctx, &record, lang, bgc)
		})
	}
}

func (e *Engine) notifyAdmins(ctx context.Context, rec *UserRecord, lang, bgc string) error {
	admins, err := e.repo.GetAdminsFor(ctx, rec.ID)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		e.logger.Error("no admins found, skipping new registration notice", "id", rec.ID)
		return nil
	}

	var failed []string
	for _, admin := range admins {
		if ok, err := e.notifier.SendNewRegistration(ctx, admin, rec, lang, bgc); err != nil || !ok {
			e.logger.Error("unable to notify admin of new registration", "admin", admin.ID, "id", rec.ID, "error", err)
			failed = append(failed, admin.ID)
		}
	}
	if len(failed) > 0 {
		return goerrors.New("failed to notify admins", goerrors.CategoryOperation).
			WithMetadata(map[string]any{"id": rec.ID, "admins": strings.Join(failed, ",")})
	}
	return nil
}
