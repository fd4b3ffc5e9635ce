package admission

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterAdmissionRoutes mounts the admission JSON API on app.
func RegisterAdmissionRoutes[T any](app router.Router[T], opts ...AdmissionControllerOption) *AdmissionController {
	controller := NewAdmissionController(opts...)

	app.Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("register.post")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("login.post")
	app.Post(controller.Routes.ApproveEmail, controller.ApproveEmail).
		SetName("approve-email.post")
	app.Get(controller.Routes.Metrics, MetricsHandler(controller.Gatherer, controller.Logger)).
		SetName("metrics.get")

	guard := AdminGuard(controller.Tokens, controller.Logger)
	admin := app.Group(controller.Routes.Admin)
	admin.Post(controller.Routes.Register, controller.AdminRegistrationCreate, guard).
		SetName("admin.register.post")
	admin.Post(controller.Routes.ApproveUser, controller.AdminApproveUser, guard).
		SetName("admin.approve-user.post")
	admin.Get(controller.Routes.NewOrgUsers, controller.AdminNewOrgUsers, guard).
		SetName("admin.new-org-users.get")

	return controller
}

type AdmissionControllerRoutes struct {
	Register     string
	Login        string
	ApproveEmail string
	Metrics      string
	Admin        string
	ApproveUser  string
	NewOrgUsers  string
}

type AdmissionController struct {
	Debug       bool
	Logger      Logger
	Routes      *AdmissionControllerRoutes
	Tokens      *TokenService
	Verifier    *EmailApprovalVerifier
	Register    *RegisterUserHandler
	Login       *LoginHandler
	Approve     *ApproveUserHandler
	NewOrgUsers *NewOrgUsersHandler
	Gatherer    prometheus.Gatherer
}

type AdmissionControllerOption func(*AdmissionController) *AdmissionController

// WithControllerDebug dumps decoded payloads.
func WithControllerDebug(debug bool) AdmissionControllerOption {
	return func(c *AdmissionController) *AdmissionController {
		c.Debug = debug
		return c
	}
}

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) AdmissionControllerOption {
	return func(c *AdmissionController) *AdmissionController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerHandlers sets the command handlers.
func WithControllerHandlers(register *RegisterUserHandler, login *LoginHandler, approve *ApproveUserHandler, newOrgUsers *NewOrgUsersHandler) AdmissionControllerOption {
	return func(c *AdmissionController) *AdmissionController {
		c.Register = register
		c.Login = login
		c.Approve = approve
		c.NewOrgUsers = newOrgUsers
		return c
	}
}

// WithControllerVerifier sets the email approval verifier.
func WithControllerVerifier(v *EmailApprovalVerifier) AdmissionControllerOption {
	return func(c *AdmissionController) *AdmissionController {
		c.Verifier = v
		return c
	}
}

// WithControllerTokens sets the session token service.
func WithControllerTokens(tokens *TokenService) AdmissionControllerOption {
	return func(c *AdmissionController) *AdmissionController {
		c.Tokens = tokens
		return c
	}
}

// WithControllerGatherer sets the registry served on the metrics route.
func WithControllerGatherer(g prometheus.Gatherer) AdmissionControllerOption {
	return func(c *AdmissionController) *AdmissionController {
		c.Gatherer = g
		return c
	}
}

func NewAdmissionController(opts ...AdmissionControllerOption) *AdmissionController {
	c := &AdmissionController{
		Logger: defaultLogger(),
		Routes: &AdmissionControllerRoutes{
			Register:     "/register",
			Login:        "/login",
			ApproveEmail: "/approve-email",
			Metrics:      "/metrics",
			Admin:        "/admin",
			ApproveUser:  "/approve-user",
			NewOrgUsers:  "/new-org-users",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Register == nil || c.Login == nil || c.Approve == nil || c.NewOrgUsers == nil {
		panic("Missing command handlers in admission controller...")
	}

	if c.Verifier == nil {
		panic("Missing EmailApprovalVerifier in admission controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenService in admission controller...")
	}

	return c
}

func (a *AdmissionController) RegistrationCreate(c router.Context) error {
	return a.register(c, false)
}

func (a *AdmissionController) AdminRegistrationCreate(c router.Context) error {
	return a.register(c, true)
}

func (a *AdmissionController) register(c router.Context, byAdmin bool) error {
	payload := new(RegistrationRequest)
	if err := c.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, map[string]any{
			"result": false,
			"errors": map[string]string{"form": "Failed to parse body"},
		})
	}
	payload.ClientIP = c.IP()

	a.dump("REGISTER", map[string]any{"id": payload.ID, "org": payload.Org, "lang": payload.Lang, "by_admin": byAdmin})

	var res *RegistrationResult
	err := a.Register.Execute(c.Context(), RegisterUserMessage{
		Request: *payload,
		ByAdmin: byAdmin,
		OnResponse: func(r *RegistrationResult) {
			res = r
		},
	})

	if err != nil && HasTextCode(err, TextCodeInvalidRequest) {
		return c.JSON(router.StatusBadRequest, map[string]any{
			"result": false,
			"errors": AsRichError(err).Metadata["fields"],
		})
	}

	if err != nil {
		logRichError(a.Logger, "registration rejected", err)
	}
	if res == nil {
		res = rejected(ReasonFromError(err))
	}
	return c.JSON(StatusFor(err), res)
}

func (a *AdmissionController) LoginPost(c router.Context) error {
	payload := new(LoginMessage)
	if err := c.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, &LoginResponse{Reason: LoginReasonBadID})
	}
	payload.ClientIP = c.IP()

	a.dump("LOGIN", map[string]any{"id": payload.ID, "bgc": payload.Bgc})

	var resp *LoginResponse
	payload.OnResponse = func(r *LoginResponse) {
		resp = r
	}

	err := a.Login.Execute(c.Context(), *payload)
	if resp == nil {
		resp = &LoginResponse{Reason: LoginReasonInternal}
	}
	return c.JSON(StatusFor(err), resp)
}

// ApproveEmailPayload holds the sealed values of a verification link
type ApproveEmailPayload struct {
	E string `json:"e"`
	T string `json:"t"`
}

// Validate will run validation rules
func (r ApproveEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.E, validation.Required),
		validation.Field(&r.T, validation.Required),
	)
}

func (a *AdmissionController) ApproveEmail(c router.Context) error {
	payload := new(ApproveEmailPayload)
	if err := c.Bind(payload); err != nil {
		a.Logger.Error("approve email parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, map[string]any{"result": false})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("approve email validation failure", "error", err)
		return c.JSON(router.StatusBadRequest, map[string]any{
			"result": false,
			"errors": FormatValidationErrorToMap(err),
		})
	}

	ok, err := a.Verifier.Verify(c.Context(), EmailApprovalToken{E: payload.E, T: payload.T})
	if err != nil {
		logRichError(a.Logger, "email approval failed", err)
		return c.JSON(router.StatusInternalServerError, map[string]any{"result": false})
	}
	return c.JSON(router.StatusOK, map[string]any{"result": ok})
}

func (a *AdmissionController) AdminApproveUser(c router.Context) error {
	payload := new(ApproveUserMessage)
	if err := c.Bind(payload); err != nil {
		a.Logger.Error("approve user parse payload", "error", err)
		return c.JSON(router.StatusBadRequest, map[string]any{"result": false})
	}
	if claims, ok := SessionFromContext(c); ok {
		payload.ActorID = claims.UserID()
	}

	a.dump("APPROVE USER", payload)

	if err := a.Approve.Execute(c.Context(), *payload); err != nil {
		logRichError(a.Logger, "approve user failed", err)
		body := map[string]any{"result": false}
		if HasTextCode(err, TextCodeInvalidRequest) {
			body["errors"] = AsRichError(err).Metadata["fields"]
		}
		return c.JSON(StatusFor(err), body)
	}
	return c.JSON(router.StatusOK, map[string]any{"result": true})
}

func (a *AdmissionController) AdminNewOrgUsers(c router.Context) error {
	var users []*UserRecord
	err := a.NewOrgUsers.Execute(c.Context(), NewOrgUsersMessage{
		OnResponse: func(u []*UserRecord) {
			users = u
		},
	})
	if err != nil {
		logRichError(a.Logger, "get new org users failed", err)
		return c.JSON(StatusFor(err), map[string]any{"result": false})
	}
	if users == nil {
		users = []*UserRecord{}
	}
	return c.JSON(router.StatusOK, map[string]any{"result": true, "users": users})
}

func (a *AdmissionController) dump(label string, payload any) {
	if !a.Debug {
		return
	}
	fmt.Printf("======= %s ======\n", label)
	fmt.Println(print.MaybePrettyJSON(payload))
	fmt.Println("=========================")
}
