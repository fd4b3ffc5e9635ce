package admission

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// DefaultEmailExpiry applies when no expiry unit is configured.
const DefaultEmailExpiry = 7 * 24 * time.Hour

// DefaultSafeSkewSeconds bounds the drift between the registration time and
// the time sealed into the approval link.
const DefaultSafeSkewSeconds = 10

// DefaultQueueDelay is the delay of deferred jobs when none is configured.
const DefaultQueueDelay = 500 * time.Millisecond

// Config holds admission options
type Config struct {
	Addr            string `env:"ADMISSION_ADDR" envDefault:":8080"`
	DSN             string `env:"ADMISSION_DSN" envDefault:"file:admission.db?cache=shared"`
	RedisURL        string `env:"ADMISSION_REDIS_URL"`
	DomainListsPath string `env:"ADMISSION_DOMAIN_LISTS_PATH" envDefault:"conf/idblackwhitelists.json"`
	Debug           bool   `env:"ADMISSION_DEBUG"`

	VerifyEmailOnRegistration     bool `env:"ADMISSION_VERIFY_EMAIL_ON_REGISTRATION" envDefault:"true"`
	NewUsersNeedApprovalFromAdmin bool `env:"ADMISSION_NEW_USERS_NEED_APPROVAL" envDefault:"true"`

	// Expiry of email approval links. The first non zero unit wins, in
	// the order hours, minutes, seconds.
	EmailExpiryHours   int `env:"ADMISSION_EMAIL_EXPIRY_HOURS"`
	EmailExpiryMinutes int `env:"ADMISSION_EMAIL_EXPIRY_MINUTES"`
	EmailExpirySeconds int `env:"ADMISSION_EMAIL_EXPIRY_SECONDS"`
	SafeSkewSeconds    int `env:"ADMISSION_VERIFY_URL_SAFE_SKEW_SECONDS" envDefault:"10"`

	LoginUpdateDelay time.Duration `env:"ADMISSION_LOGIN_UPDATE_DELAY" envDefault:"500ms"`
	NotifyDelay      time.Duration `env:"ADMISSION_NOTIFY_DELAY" envDefault:"500ms"`
	ListenerTimeout  time.Duration `env:"ADMISSION_LISTENER_TIMEOUT"`
	JobWorkers       int           `env:"ADMISSION_JOB_WORKERS" envDefault:"2"`

	OpsMailbox  string `env:"ADMISSION_OPS_MAILBOX" envDefault:"ops@localhost"`
	// Operators may approve identities of any org. The ops mailbox is
	// always one of them.
	Operators []string `env:"ADMISSION_OPERATORS" envSeparator:","`
	BaseURL     string `env:"ADMISSION_BASE_URL" envDefault:"http://localhost:8080/index.html?.="`
	LoginURL    string `env:"ADMISSION_LOGIN_URL" envDefault:"http://localhost:8080/login.html"`
	VerifyURL   string `env:"ADMISSION_VERIFY_URL" envDefault:"http://localhost:8080/approve.html"`
	DefaultLang string `env:"ADMISSION_DEFAULT_LANG" envDefault:"en"`

	// LinkKey seals approval link values, 16, 24 or 32 bytes.
	LinkKey string `env:"ADMISSION_LINK_KEY"`

	SigningKey      string   `env:"ADMISSION_SIGNING_KEY"`
	TokenExpiration int      `env:"ADMISSION_TOKEN_EXPIRATION_HOURS" envDefault:"24"`
	Issuer          string   `env:"ADMISSION_TOKEN_ISSUER" envDefault:"go-admission"`
	Audience        []string `env:"ADMISSION_TOKEN_AUDIENCE" envSeparator:","`

	SMTPHost     string `env:"ADMISSION_SMTP_HOST"`
	SMTPPort     int    `env:"ADMISSION_SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"ADMISSION_SMTP_USERNAME"`
	SMTPPassword string `env:"ADMISSION_SMTP_PASSWORD"`
	SMTPFrom     string `env:"ADMISSION_SMTP_FROM" envDefault:"noreply@localhost"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse environment configuration")
	}
	return cfg, nil
}

// DefaultConfig returns the configuration with every default applied and
// no secrets set.
func DefaultConfig() *Config {
	cfg := &Config{}
	// defaults only, the environment is not consulted
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// EmailExpiry resolves the approval link lifetime.
func (c *Config) EmailExpiry() time.Duration {
	switch {
	case c == nil:
		return DefaultEmailExpiry
	case c.EmailExpiryHours > 0:
		return time.Duration(c.EmailExpiryHours) * time.Hour
	case c.EmailExpiryMinutes > 0:
		return time.Duration(c.EmailExpiryMinutes) * time.Minute
	case c.EmailExpirySeconds > 0:
		return time.Duration(c.EmailExpirySeconds) * time.Second
	default:
		return DefaultEmailExpiry
	}
}

// SafeSkew is the accepted drift between registration and link time.
func (c *Config) SafeSkew() time.Duration {
	if c == nil || c.SafeSkewSeconds <= 0 {
		return DefaultSafeSkewSeconds * time.Second
	}
	return time.Duration(c.SafeSkewSeconds) * time.Second
}

func (c *Config) loginUpdateDelay() time.Duration {
	if c == nil || c.LoginUpdateDelay <= 0 {
		return DefaultQueueDelay
	}
	return c.LoginUpdateDelay
}

func (c *Config) notifyDelay() time.Duration {
	if c == nil || c.NotifyDelay <= 0 {
		return DefaultQueueDelay
	}
	return c.NotifyDelay
}

// GetSigningKey returns the token signing key
// OperatorIDs returns the operators including the ops mailbox.
func (c *Config) OperatorIDs() []string {
	ids := append([]string{}, c.Operators...)
	if c.OpsMailbox != "" {
		ids = append(ids, c.OpsMailbox)
	}
	return ids
}

func (c *Config) GetSigningKey() string { return c.SigningKey }

// GetTokenExpiration returns the token lifetime in hours
func (c *Config) GetTokenExpiration() int { return c.TokenExpiration }

// GetIssuer returns the token issuer
func (c *Config) GetIssuer() string { return c.Issuer }

// GetAudience returns the token audience
func (c *Config) GetAudience() []string { return c.Audience }
