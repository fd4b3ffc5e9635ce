package admission

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP validates RFC 6238 codes with one period of skew.
type TOTP struct {
	now    func() time.Time
	period uint
	skew   uint
}

var _ TOTPValidator = (*TOTP)(nil)

// NewTOTP creates a validator with thirty second periods.
func NewTOTP() *TOTP {
	return &TOTP{now: time.Now, period: 30, skew: 1}
}

// WithClock injects a custom clock (useful for tests).
func (t *TOTP) WithClock(now func() time.Time) *TOTP {
	if now != nil {
		t.now = now
	}
	return t
}

// Validate implements TOTPValidator.
func (t *TOTP) Validate(code, secret string) bool {
	code = strings.TrimSpace(code)
	secret = strings.ToUpper(strings.TrimSpace(secret))
	if code == "" || secret == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), totp.ValidateOpts{
		Period:    t.period,
		Skew:      t.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// Code returns the current code for secret.
func (t *TOTP) Code(secret string) (string, error) {
	return totp.GenerateCodeCustom(strings.ToUpper(secret), t.now().UTC(), totp.ValidateOpts{
		Period:    t.period,
		Skew:      t.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateTOTPSecret creates a new base32 secret for accountName.
func GenerateTOTPSecret(issuer, accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}
