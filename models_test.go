package admission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "acme.com", DomainOf("ann@ACME.com"))
	assert.Equal(t, "undefined", DomainOf("ann"))
	assert.Equal(t, "", DomainOf("ann@"))
}

func TestIsEmailShaped(t *testing.T) {
	for _, id := range []string{"ann@acme.com", "first.last-1@mail.acme.co.uk", "a_b@x.io"} {
		assert.True(t, IsEmailShaped(id), id)
	}
	for _, id := range []string{"", "ann", "ann@acme", "ann@acme.c", "ann smith@acme.com", "ann@acme.company"} {
		assert.False(t, IsEmailShaped(id), id)
	}
}

func TestRegistrationRequest_Validate(t *testing.T) {
	valid := selfRequest("ann@acme.com", "Ann", "Acme")
	require.NoError(t, valid.ValidateSelfService())

	tests := map[string]struct {
		mutate func(*RegistrationRequest)
		field  string
	}{
		"bad id":            {mutate: func(r *RegistrationRequest) { r.ID = "ann" }, field: "id"},
		"missing org":       {mutate: func(r *RegistrationRequest) { r.Org = "" }, field: "org"},
		"missing password":  {mutate: func(r *RegistrationRequest) { r.Password = "" }, field: "password"},
		"short code":        {mutate: func(r *RegistrationRequest) { r.TOTPCode = "123" }, field: "totpCode"},
		"non digit code":    {mutate: func(r *RegistrationRequest) { r.TOTPCode = "12345a" }, field: "totpCode"},
		"missing secret":    {mutate: func(r *RegistrationRequest) { r.TOTPSecret = "" }, field: "totpSecret"},
		"language too long": {mutate: func(r *RegistrationRequest) { r.Lang = "english" }, field: "lang"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			err := req.ValidateSelfService()
			require.Error(t, err)
			assert.Contains(t, FormatValidationErrorToMap(err), tc.field)
		})
	}

	admin := valid
	admin.TOTPCode, admin.TOTPSecret = "", ""
	assert.Error(t, admin.ValidateAdmin(), "role is required")
	admin.Role = RoleAdmin
	assert.NoError(t, admin.ValidateAdmin())
}

func TestRegistrationRequest_JSON(t *testing.T) {
	var req RegistrationRequest
	err := json.Unmarshal([]byte(`{
		"id": "ann@acme.com",
		"name": "Ann",
		"org": "Acme",
		"password": "pw",
		"totpSecret": "JBSWY3DPEHPK3PXP",
		"totpCode": "123456",
		"lang": "en",
		"bgc": "#fafafa"
	}`), &req)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", req.TOTPSecret)
	assert.Equal(t, "#fafafa", req.BackgroundColor)

	out, err := json.Marshal(rejected(ReasonOTP))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":false,"approved":false,"needs_verification":false,"tokenflag":false,"reason":"otp"}`, string(out))
}

func TestUserRecordHidesCredentials(t *testing.T) {
	out, err := json.Marshal(&User{Email: "ann@acme.com", PasswordHash: "hash:pw", TOTPSecret: "SECRET"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hash:pw")
	assert.NotContains(t, string(out), "SECRET")
	assert.Contains(t, string(out), `"id":"ann@acme.com"`)
}
