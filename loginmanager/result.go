package loginmanager

import (
	admission "github.com/goliatone/go-admission"
)

// Result is the outcome of a sign in or registration as seen by the client.
// Values match the numeric ids clients already persist.
type Result int

const (
	OK               Result = 1
	OKNotYetVerified Result = 2
	OKNotYetApproved Result = -1
	InternalError    Result = -2
	DBError          Result = -3
	FailedExists     Result = -4
	FailedOTP        Result = -5
	FailedPassword   Result = -6
	FailedMissing    Result = -7
	SecurityError    Result = -8
	DomainError      Result = -9
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case OKNotYetVerified:
		return "ok_not_yet_verified"
	case OKNotYetApproved:
		return "ok_not_yet_approved"
	case InternalError:
		return "internal_error"
	case DBError:
		return "db_error"
	case FailedExists:
		return "failed_exists"
	case FailedOTP:
		return "failed_otp"
	case FailedPassword:
		return "failed_password"
	case FailedMissing:
		return "failed_missing"
	case SecurityError:
		return "security_error"
	case DomainError:
		return "domain_error"
	default:
		return "unknown"
	}
}

// Success reports whether the identity was admitted or signed in, even if
// approval or verification is still outstanding.
func (r Result) Success() bool {
	return r > 0 || r == OKNotYetApproved
}

func fromLoginReason(reason admission.LoginReason) Result {
	switch reason {
	case admission.LoginReasonNotApproved:
		return OKNotYetApproved
	case admission.LoginReasonBadPassword:
		return FailedPassword
	case admission.LoginReasonBadID:
		return FailedMissing
	case admission.LoginReasonBadOTP:
		return FailedOTP
	case admission.LoginReasonDomain:
		return DomainError
	default:
		return InternalError
	}
}

func fromRegistrationReason(reason admission.Reason) Result {
	switch reason {
	case admission.ReasonExists:
		return FailedExists
	case admission.ReasonOTP:
		return FailedOTP
	case admission.ReasonSecurity:
		return SecurityError
	case admission.ReasonDomain:
		return DomainError
	default:
		return InternalError
	}
}
