package admission

import (
	goerrors "github.com/goliatone/go-errors"
)

// Reason is the outcome code surfaced to registration callers.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonExists        Reason = "exists"
	ReasonOTP           Reason = "otp"
	ReasonInternal      Reason = "internal"
	ReasonSecurity      Reason = "securityerror"
	ReasonDomain        Reason = "domainerror"
	ReasonIDDoesntExist Reason = "iddoesntexist"
)

const (
	TextCodeInvalidRequest     = "INVALID_REQUEST"
	TextCodeDomainError        = "DOMAIN_ERROR"
	TextCodeOTPError           = "OTP_ERROR"
	TextCodeSecurityError      = "SECURITY_ERROR"
	TextCodeIDExists           = "ID_EXISTS"
	TextCodeInternalError      = "INTERNAL_ERROR"
	TextCodeIDDoesntExist      = "ID_DOESNT_EXIST"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodeMismatchedPassword = "MISMATCHED_PASSWORD"
	TextCodeNotApproved        = "NOT_APPROVED"
	TextCodeInvalidLink        = "INVALID_APPROVAL_LINK"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeOutOfScope         = "APPROVAL_OUT_OF_SCOPE"
)

// ErrInvalidRequest is returned for malformed registration requests.
var ErrInvalidRequest = goerrors.New("invalid registration request", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRequest).
	WithCode(goerrors.CodeBadRequest)

// ErrDomainNotAllowed is returned when the identity's domain is not permitted.
var ErrDomainNotAllowed = goerrors.New("domain is not allowed", goerrors.CategoryAuthz).
	WithTextCode(TextCodeDomainError).
	WithCode(goerrors.CodeForbidden)

// ErrOTPMismatch is returned when the one time code does not validate.
var ErrOTPMismatch = goerrors.New("one time code does not match secret", goerrors.CategoryAuth).
	WithTextCode(TextCodeOTPError).
	WithCode(goerrors.CodeUnauthorized)

// ErrOrgDomainMismatch is returned when the domain is not registered to the org.
var ErrOrgDomainMismatch = goerrors.New("org and domain mismatch", goerrors.CategoryAuthz).
	WithTextCode(TextCodeSecurityError).
	WithCode(goerrors.CodeForbidden)

// ErrIDExists is returned when the identity is already registered.
var ErrIDExists = goerrors.New("identity already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeIDExists).
	WithCode(goerrors.CodeConflict)

// ErrIDDoesntExist is returned when the identity is not registered.
var ErrIDDoesntExist = goerrors.New("identity does not exist", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIDDoesntExist).
	WithCode(goerrors.CodeNotFound)

// ErrAdmissionAborted is returned when a post commit step rolled the
// registration back.
var ErrAdmissionAborted = goerrors.New("registration rolled back", goerrors.CategoryOperation).
	WithTextCode(TextCodeInternalError).
	WithCode(goerrors.CodeInternal)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned on bad credentials.
var ErrMismatchedHashAndPassword = goerrors.New("mismatched hash and password", goerrors.CategoryAuth).
	WithTextCode(TextCodeMismatchedPassword).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotApproved is returned on login for identities pending approval.
var ErrNotApproved = goerrors.New("identity not approved yet", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotApproved).
	WithCode(goerrors.CodeForbidden)

// ErrApprovalOutOfScope is returned when an admin approves an identity
// outside of the admin's root org.
var ErrApprovalOutOfScope = goerrors.New("identity is outside of the admin org", goerrors.CategoryAuthz).
	WithTextCode(TextCodeOutOfScope).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidApprovalLink is returned when an approval link can not be opened.
var ErrInvalidApprovalLink = goerrors.New("invalid email approval link", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidLink).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned for expired session tokens.
var ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for unparseable session tokens.
var ErrTokenMalformed = goerrors.New("token malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// withDetails copies a sentinel so call sites can attach metadata without
// mutating the shared value.
func withDetails(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	return goerrors.New(sentinel.Message, sentinel.Category).
		WithTextCode(sentinel.TextCode).
		WithCode(sentinel.Code).
		WithMetadata(metadata)
}

// wrapAs wraps err keeping the text code and status of sentinel.
func wrapAs(err error, sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	wrapped := goerrors.Wrap(err, sentinel.Category, sentinel.Message).
		WithTextCode(sentinel.TextCode).
		WithCode(sentinel.Code)
	if len(metadata) > 0 {
		wrapped = wrapped.WithMetadata(metadata)
	}
	return wrapped
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// ReasonFromError maps an admission error to the reason reported to callers.
// Validation failures carry no reason.
func ReasonFromError(err error) Reason {
	if err == nil {
		return ReasonNone
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return ReasonInternal
	}

	switch richErr.TextCode {
	case TextCodeInvalidRequest:
		return ReasonNone
	case TextCodeDomainError:
		return ReasonDomain
	case TextCodeOTPError:
		return ReasonOTP
	case TextCodeSecurityError:
		return ReasonSecurity
	case TextCodeIDExists:
		return ReasonExists
	case TextCodeIDDoesntExist:
		return ReasonIDDoesntExist
	default:
		return ReasonInternal
	}
}
