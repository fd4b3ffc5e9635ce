package admission

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// NewOrgUsersMessage lists identities whose domain is not whitelisted.
type NewOrgUsersMessage struct {
	OnResponse func(users []*UserRecord)
}

func (e NewOrgUsersMessage) Type() string { return "user.new_org_users" }

type NewOrgUsersHandler struct {
	repo       IdentityRepository
	classifier *DomainClassifier
	logger     Logger
}

func NewNewOrgUsersHandler(repo IdentityRepository, classifier *DomainClassifier, logger Logger) *NewOrgUsersHandler {
	if logger == nil {
		logger = defaultLogger()
	}
	return &NewOrgUsersHandler{repo: repo, classifier: classifier, logger: logger}
}

func (h *NewOrgUsersHandler) Execute(ctx context.Context, event NewOrgUsersMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled while listing new org users",
		)
	default:
	}

	h.logger.Info("got get new org users request")

	whitelist, err := h.classifier.Whitelist(ctx)
	if err != nil {
		return err
	}

	users, err := h.repo.GetNewOrgUsers(ctx, whitelist)
	if err != nil {
		return err
	}

	if len(users) == 0 {
		h.logger.Info("no new org users found")
	}

	if event.OnResponse != nil {
		event.OnResponse(users)
	}
	return nil
}
