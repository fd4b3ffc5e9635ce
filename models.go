package admission

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EmailPattern is the shape every identity must have.
var EmailPattern = regexp.MustCompile(`^([a-zA-Z0-9_\-\.]+)@([a-zA-Z0-9_\-\.]+)\.([a-zA-Z]{2,5})$`)

// IsEmailShaped reports whether id looks like an email identity.
func IsEmailShaped(id string) bool {
	return EmailPattern.MatchString(id)
}

// DomainOf returns the lower cased domain of an identity, or "undefined"
// when the identity has no "@".
func DomainOf(id string) string {
	at := strings.Index(id, "@")
	if at == -1 {
		return "undefined"
	}
	return strings.ToLower(id[at+1:])
}

// User is the persisted identity
type User struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"uuid,omitempty"`
	Email             string     `bun:"email,notnull,unique" json:"id"`
	Name              string     `bun:"name,notnull" json:"name"`
	Org               string     `bun:"org,notnull" json:"org"`
	Domain            string     `bun:"domain,notnull" json:"domain"`
	Role              UserRole   `bun:"user_role,notnull" json:"role"`
	PasswordHash      string     `bun:"password_hash" json:"-"`
	TOTPSecret        string     `bun:"totp_secret" json:"-"`
	Approved          bool       `bun:"approved,notnull" json:"approved"`
	NeedsVerification bool       `bun:"needs_verification,notnull" json:"needs_verification"`
	Verified          bool       `bun:"verified,notnull" json:"verified"`
	RegisterDate      int64      `bun:"register_date,notnull" json:"registerdate"`
	LastLoginAt       *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	LastLoginIP       string     `bun:"last_login_ip" json:"last_login_ip,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Record returns the repository view of the user.
func (u *User) Record() *UserRecord {
	if u == nil {
		return nil
	}
	return &UserRecord{
		ID:                u.Email,
		Name:              u.Name,
		Org:               u.Org,
		Domain:            u.Domain,
		Role:              u.Role,
		Approved:          u.Approved,
		RegisterDate:      u.RegisterDate,
		Verified:          u.Verified,
		NeedsVerification: u.NeedsVerification,
	}
}

// Org is an organization. Root orgs have no parent.
type Org struct {
	bun.BaseModel `bun:"table:orgs,alias:org"`
	Name          string     `bun:"name,pk" json:"name"`
	Parent        string     `bun:"parent" json:"parent,omitempty"`
	Suspended     bool       `bun:"suspended,notnull" json:"suspended"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// OrgDomain binds an email domain to the root org that owns it.
type OrgDomain struct {
	bun.BaseModel `bun:"table:org_domains,alias:odm"`
	Domain        string `bun:"domain,pk" json:"domain"`
	Org           string `bun:"org,notnull" json:"org"`
}

// UserRecord is what the repository exposes about an identity.
type UserRecord struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Org               string   `json:"org"`
	Domain            string   `json:"domain"`
	Role              UserRole `json:"role"`
	Approved          bool     `json:"approved"`
	RegisterDate      int64    `json:"registerdate"`
	Verified          bool     `json:"verified"`
	NeedsVerification bool     `json:"needs_verification"`
}

// NewUser is the input of IdentityRepository.Register.
type NewUser struct {
	ID          string
	Name        string
	Org         string
	Password    string
	TOTPSecret  string
	Role        UserRole
	Approved    bool
	VerifyEmail bool
	Domain      string
}

// RegistrationRequest is a request to admit a new identity. Role, Approved
// and VerifyEmail are only honoured on the admin path.
type RegistrationRequest struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Org             string   `json:"org"`
	Password        string   `json:"password"`
	TOTPSecret      string   `json:"totpSecret"`
	TOTPCode        string   `json:"totpCode"`
	Role            UserRole `json:"role,omitempty"`
	Approved        bool     `json:"approved,omitempty"`
	VerifyEmail     bool     `json:"verifyEmail,omitempty"`
	Lang            string   `json:"lang"`
	BackgroundColor string   `json:"bgc,omitempty"`
	ClientIP        string   `json:"-"`
}

// Validate will run validation rules
func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, validation.Length(6, 100), validation.Match(EmailPattern)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Org, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Lang, validation.Length(2, 5)),
	)
}

// ValidateSelfService adds the rules of the public path.
func (r RegistrationRequest) ValidateSelfService() error {
	if err := r.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.TOTPSecret, validation.Required),
		validation.Field(&r.TOTPCode, validation.Required, is.Digit, validation.Length(6, 8)),
	)
}

// ValidateAdmin adds the rules of the admin path.
func (r RegistrationRequest) ValidateAdmin() error {
	if err := r.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required, validation.In(RoleAdmin, RoleUser)),
	)
}

// RegistrationResult is the outcome of an admission.
type RegistrationResult struct {
	Result            bool     `json:"result"`
	ID                string   `json:"id,omitempty"`
	Name              string   `json:"name,omitempty"`
	Org               string   `json:"org,omitempty"`
	Role              UserRole `json:"role,omitempty"`
	Domain            string   `json:"domain,omitempty"`
	Approved          bool     `json:"approved"`
	NeedsVerification bool     `json:"needs_verification"`
	TokenFlag         bool     `json:"tokenflag"`
	Reason            Reason   `json:"reason,omitempty"`
	Token             string   `json:"token,omitempty"`
}

func rejected(reason Reason) *RegistrationResult {
	return &RegistrationResult{Result: false, Reason: reason}
}
