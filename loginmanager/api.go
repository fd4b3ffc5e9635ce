package loginmanager

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	admission "github.com/goliatone/go-admission"
	goerrors "github.com/goliatone/go-errors"
)

// API is the server surface the manager talks to.
type API interface {
	Login(ctx context.Context, req admission.LoginMessage) (*admission.LoginResponse, error)
	Register(ctx context.Context, req admission.RegistrationRequest) (*admission.RegistrationResult, error)
	ApproveEmail(ctx context.Context, e, t string) (bool, error)
}

// DefaultRequestTimeout bounds calls when the context has no deadline.
const DefaultRequestTimeout = 10 * time.Second

// HTTPAPI speaks the admission JSON API.
type HTTPAPI struct {
	baseURL string
	timeout time.Duration
}

var _ API = (*HTTPAPI)(nil)

// NewHTTPAPI targets the server mounted at baseURL, e.g. http://host:8080.
func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultRequestTimeout,
	}
}

// WithTimeout overrides DefaultRequestTimeout.
func (h *HTTPAPI) WithTimeout(d time.Duration) *HTTPAPI {
	if d > 0 {
		h.timeout = d
	}
	return h
}

func (h *HTTPAPI) Login(ctx context.Context, req admission.LoginMessage) (*admission.LoginResponse, error) {
	resp := &admission.LoginResponse{}
	if err := h.post(ctx, "/login", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTPAPI) Register(ctx context.Context, req admission.RegistrationRequest) (*admission.RegistrationResult, error) {
	resp := &admission.RegistrationResult{}
	if err := h.post(ctx, "/register", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTPAPI) ApproveEmail(ctx context.Context, e, t string) (bool, error) {
	resp := struct {
		Result bool `json:"result"`
	}{}
	if err := h.post(ctx, "/approve-email", fiber.Map{"e": e, "t": t}, &resp); err != nil {
		return false, err
	}
	return resp.Result, nil
}

// post sends payload as JSON and decodes the reply into out. The server
// answers rejections with a JSON body too, so non 2xx statuses are decoded
// rather than treated as transport failures.
func (h *HTTPAPI) post(ctx context.Context, path string, payload, out any) error {
	if err := ctx.Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "context cancelled before request")
	}

	timeout := h.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	agent := fiber.Post(h.baseURL + path).
		Timeout(timeout).
		JSON(payload)

	code, body, errs := agent.Struct(out)
	if len(errs) > 0 {
		return goerrors.Wrap(errs[0], goerrors.CategoryOperation, "admission API request failed").
			WithMetadata(map[string]any{"path": path, "status": code})
	}
	if len(body) == 0 {
		return goerrors.New("admission API returned an empty body", goerrors.CategoryOperation).
			WithMetadata(map[string]any{"path": path, "status": code})
	}
	return nil
}
