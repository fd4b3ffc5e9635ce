package admission

import (
	"bytes"
	"net/http"

	"github.com/goliatone/go-admission/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ClaimsContextKey is the request local holding validated session claims.
const ClaimsContextKey = "admission.claims"

// ErrAdminRequired is returned when a non admin session reaches an admin route.
var ErrAdminRequired = errors.New("admin role required", errors.CategoryAuthz).
	WithTextCode("ADMIN_REQUIRED").
	WithCode(errors.CodeForbidden)

// AdminGuard only lets requests carrying an admin session token through.
func AdminGuard(tokens *TokenService, logger Logger) router.MiddlewareFunc {
	if logger == nil {
		logger = defaultLogger()
	}
	return jwtware.New(jwtware.Config[*SessionClaims]{
		ContextKey:      ClaimsContextKey,
		Validate:        tokens.Validate,
		ContextEnricher: WithClaimsContext,
		Authorize: func(claims *SessionClaims) error {
			if !claims.IsAdmin() {
				return withDetails(ErrAdminRequired, map[string]any{"id": claims.UserID()})
			}
			return nil
		},
		ErrorHandler: func(c router.Context, err error) error {
			richErr := AsRichError(err)
			if richErr.Category != errors.CategoryAuthz {
				richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
					WithCode(errors.CodeUnauthorized)
			}
			logger.Info("admin route rejected",
				"error", richErr.Message,
				"text_code", richErr.TextCode,
				"path", c.OriginalURL(),
			)
			return c.JSON(richErr.Code, map[string]any{
				"result": false,
				"error":  richErr.Message,
			})
		},
	})
}

// SessionFromContext returns the claims stored by AdminGuard.
func SessionFromContext(c router.Context) (*SessionClaims, bool) {
	claims, ok := c.Locals(ClaimsContextKey).(*SessionClaims)
	return claims, ok && claims != nil
}

// MetricsHandler exposes gatherer in the prometheus text format.
func MetricsHandler(gatherer prometheus.Gatherer, logger Logger) router.HandlerFunc {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = defaultLogger()
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)

	return func(c router.Context) error {
		families, err := gatherer.Gather()
		if err != nil {
			// partial results are still served
			logger.Error("failed to gather metrics", "error", err)
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				logRichError(logger, "failed to encode metrics",
					errors.Wrap(err, errors.CategoryInternal, "metrics encoding failed"))
				return c.Status(http.StatusInternalServerError).SendString("failed to encode metrics")
			}
		}

		c.SetHeader("Content-Type", string(format))
		return c.Send(buf.Bytes())
	}
}

// AsRichError returns err as a go-errors value, wrapping plain errors as
// internal failures.
func AsRichError(err error) *errors.Error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}
	return errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
		WithCode(errors.CodeInternal)
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	richErr := AsRichError(err)
	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}

	switch richErr.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func logRichError(logger Logger, msg string, err error) {
	richErr := AsRichError(err)
	logger.Error(msg,
		"error", richErr.Message,
		"category", richErr.Category,
		"text_code", richErr.TextCode,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)
}
