package admission

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
)

func TestReasonFromError(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{err: nil, want: ReasonNone},
		{err: ErrInvalidRequest, want: ReasonNone},
		{err: ErrDomainNotAllowed, want: ReasonDomain},
		{err: ErrOTPMismatch, want: ReasonOTP},
		{err: ErrOrgDomainMismatch, want: ReasonSecurity},
		{err: ErrIDExists, want: ReasonExists},
		{err: ErrIDDoesntExist, want: ReasonIDDoesntExist},
		{err: ErrAdmissionAborted, want: ReasonInternal},
		{err: errors.New("plain"), want: ReasonInternal},
		{err: fmt.Errorf("wrapped: %w", withDetails(ErrOTPMismatch, nil)), want: ReasonOTP},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ReasonFromError(tc.err), "%v", tc.err)
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, http.StatusBadRequest, StatusFor(ErrInvalidRequest))
	assert.Equal(t, http.StatusForbidden, StatusFor(ErrDomainNotAllowed))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(ErrOTPMismatch))
	assert.Equal(t, http.StatusConflict, StatusFor(ErrIDExists))
	assert.Equal(t, http.StatusNotFound, StatusFor(ErrIDDoesntExist))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
	assert.Equal(t, http.StatusConflict, StatusFor(goerrors.New("taken", goerrors.CategoryConflict)))
}

func TestWithDetails_CopiesSentinel(t *testing.T) {
	err := withDetails(ErrDomainNotAllowed, map[string]any{"domain": "spam.io"})

	assert.Equal(t, "spam.io", err.Metadata["domain"])
	assert.Equal(t, TextCodeDomainError, err.TextCode)
	assert.Empty(t, ErrDomainNotAllowed.Metadata, "the sentinel is not mutated")
}

func TestWrapAs(t *testing.T) {
	cause := errors.New("smtp: 550 mailbox unavailable")
	err := wrapAs(cause, ErrAdmissionAborted, map[string]any{"stage": "verification_email"})

	assert.True(t, HasTextCode(err, TextCodeInternalError))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "verification_email", err.Metadata["stage"])
	assert.False(t, HasTextCode(cause, TextCodeInternalError))
	assert.False(t, HasTextCode(nil, TextCodeInternalError))
}
