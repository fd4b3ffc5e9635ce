package admission

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// ApproveUserMessage is an admin approving a pending identity. When
// ApproveOrg is set the identity's domain joins the whitelist. An empty
// ActorID marks an in process caller that is not scoped to an org.
type ApproveUserMessage struct {
	ID         string `json:"id"`
	Org        string `json:"org"`
	Name       string `json:"name"`
	ApproveOrg bool   `json:"approveOrg"`
	Lang       string `json:"lang"`
	Bgc        string `json:"bgc,omitempty"`
	ActorID    string `json:"-"`
}

func (e ApproveUserMessage) Type() string { return "user.approve" }

// Validate will run validation rules
func (e ApproveUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required, validation.Match(EmailPattern)),
		validation.Field(&e.Org, validation.Required),
		validation.Field(&e.Name, validation.Required),
	)
}

// ApproveUserHandler approves identities on behalf of an org admin.
type ApproveUserHandler struct {
	repo       IdentityRepository
	classifier *DomainClassifier
	notifier   *Notifier
	operators  map[string]struct{}
	metrics    *Metrics
	activity   ActivitySink
	logger     Logger
}

// NewApproveUserHandler creates the handler.
func NewApproveUserHandler(repo IdentityRepository, classifier *DomainClassifier, notifier *Notifier, logger Logger) *ApproveUserHandler {
	if logger == nil {
		logger = defaultLogger()
	}
	return &ApproveUserHandler{
		repo:       repo,
		classifier: classifier,
		notifier:   notifier,
		operators:  map[string]struct{}{},
		activity:   noopActivitySink{},
		logger:     logger,
	}
}

// WithOperators lets ids approve identities of any org. Everyone else
// approves only within the root org of their own identity.
func (h *ApproveUserHandler) WithOperators(ids ...string) *ApproveUserHandler {
	for _, id := range ids {
		if id = normalizeID(id); id != "" {
			h.operators[id] = struct{}{}
		}
	}
	return h
}

// WithMetrics counts failed approval emails.
func (h *ApproveUserHandler) WithMetrics(m *Metrics) *ApproveUserHandler {
	h.metrics = m
	return h
}

// WithActivitySink publishes approvals.
func (h *ApproveUserHandler) WithActivitySink(sink ActivitySink) *ApproveUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *ApproveUserHandler) Execute(ctx context.Context, event ApproveUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user approval",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ApproveUserHandler) execute(ctx context.Context, event ApproveUserMessage) error {
	if err := event.Validate(); err != nil {
		return wrapAs(err, ErrInvalidRequest, map[string]any{
			"fields": FormatValidationErrorToMap(err),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := h.authorize(ctx, event); err != nil {
		h.logger.Warn("approval rejected", "id", event.ID, "actor", event.ActorID, "error", err)
		return err
	}

	h.logger.Debug("got approve user request", "id", event.ID)
	approveErr := h.repo.Approve(ctx, event.ID, event.Org)

	// the org is approved even when the user approval failed
	if event.ApproveOrg {
		if err := h.classifier.AddToWhitelist(ctx, DomainOf(event.ID)); err != nil {
			h.logger.Error("unable to add domain to whitelist", "id", event.ID, "error", err)
		} else {
			recordActivity(ctx, h.activity, h.logger, ActivityEvent{
				EventType: ActivityEventDomainWhitelisted,
				ActorID:   event.ActorID,
				UserID:    event.ID,
				Org:       event.Org,
				Metadata:  map[string]any{"domain": DomainOf(event.ID)},
			})
		}
	}

	if approveErr != nil {
		h.logger.Error("unable to approve user", "id", event.ID, "error", approveErr)
		return approveErr
	}

	h.logger.Info("user approved", "id", event.ID, "name", event.Name, "org", event.Org)
	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserApproved,
		ActorID:   event.ActorID,
		UserID:    event.ID,
		Org:       event.Org,
	})

	ok, err := h.notifier.SendAccountApproved(ctx, event.ID, event.Name, event.Org, event.Lang, event.Bgc)
	if err != nil || !ok {
		h.logger.Error("unable to email account approved notice", "id", event.ID, "login_url", h.notifier.LoginLink(event.Bgc, false), "error", err)
		h.metrics.bestEffortFailed("account_approved_email")
	}
	return nil
}

// authorize checks that both the identity and the requested org belong
// to the root org of the actor.
func (h *ApproveUserHandler) authorize(ctx context.Context, event ApproveUserMessage) error {
	actorID := normalizeID(event.ActorID)
	if actorID == "" {
		return nil
	}
	if _, ok := h.operators[actorID]; ok {
		return nil
	}

	outOfScope := withDetails(ErrApprovalOutOfScope, map[string]any{
		"id":    event.ID,
		"org":   event.Org,
		"actor": actorID,
	})

	actor, err := h.repo.ExistsID(ctx, actorID)
	if err != nil {
		if HasTextCode(err, TextCodeIDDoesntExist) {
			return outOfScope
		}
		return err
	}
	actorRoot, err := h.rootOf(ctx, actor.Org)
	if err != nil {
		return err
	}

	target, err := h.repo.ExistsID(ctx, event.ID)
	if err != nil {
		return err
	}

	for _, org := range []string{target.Org, event.Org} {
		root, err := h.rootOf(ctx, org)
		if err != nil {
			return err
		}
		if !strings.EqualFold(root, actorRoot) {
			return outOfScope
		}
	}
	return nil
}

func (h *ApproveUserHandler) rootOf(ctx context.Context, org string) (string, error) {
	root, err := h.repo.GetRootOrg(ctx, org)
	if err != nil {
		return "", err
	}
	if root == "" {
		return org, nil
	}
	return root, nil
}
