package admission

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RegisterUserMessage asks the engine to admit a new identity.
type RegisterUserMessage struct {
	Request    RegistrationRequest
	ByAdmin    bool
	OnResponse func(res *RegistrationResult)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler runs admissions and mints a session token when the
// result carries the token flag.
type RegisterUserHandler struct {
	engine *Engine
	tokens *TokenService
	logger Logger
}

// NewRegisterUserHandler creates the handler. tokens may be nil, in which
// case no session token is minted.
func NewRegisterUserHandler(engine *Engine, tokens *TokenService, logger Logger) *RegisterUserHandler {
	if logger == nil {
		logger = defaultLogger()
	}
	return &RegisterUserHandler{engine: engine, tokens: tokens, logger: logger}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	res, err := h.engine.Admit(ctx, event.Request, event.ByAdmin)
	if err == nil && res.TokenFlag && h.tokens != nil {
		token, tokenErr := h.tokens.Generate(&UserRecord{
			ID:       res.ID,
			Name:     res.Name,
			Org:      res.Org,
			Domain:   res.Domain,
			Role:     res.Role,
			Approved: res.Approved,
			Verified: !res.NeedsVerification,
		})
		if tokenErr != nil {
			h.logger.Error("failed to mint session token after registration", "id", res.ID, "error", tokenErr)
		}
		res.Token = token
	}

	if event.OnResponse != nil {
		event.OnResponse(res)
	}
	return err
}
