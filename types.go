package admission

import (
	"context"
	"fmt"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// IdentityRepository owns user records, orgs and domains. The engine and
// the verifier only ever read and write identities through it.
type IdentityRepository interface {
	// ExistsID returns the stored record or an error with text code
	// TextCodeIDDoesntExist when the identity is unknown.
	ExistsID(ctx context.Context, id string) (*UserRecord, error)
	Approve(ctx context.Context, id, org string) error
	ApproveUnknown(ctx context.Context, id string) error
	// MarkVerified records that the owner of an already approved identity
	// proved control of the mailbox.
	MarkVerified(ctx context.Context, id string) error
	// Register persists a new identity. An existing identity yields
	// ErrIDExists and nothing is written.
	Register(ctx context.Context, user NewUser) (*UserRecord, error)
	DeleteUser(ctx context.Context, id string) error

	GetRootOrgForDomain(ctx context.Context, domain string) (string, error)
	GetRootOrg(ctx context.Context, org string) (string, error)
	GetSubOrgs(ctx context.Context, org string) ([]string, error)
	GetDomainsForOrg(ctx context.Context, org string) ([]string, error)
	GetUsersForRootOrg(ctx context.Context, org string) ([]*UserRecord, error)
	GetAdminsFor(ctx context.Context, id string) ([]*UserRecord, error)

	ShouldAllowDomain(ctx context.Context, domain string) (bool, error)
	GetNewOrgUsers(ctx context.Context, whitelist []string) ([]*UserRecord, error)
	UpdateLoginStats(ctx context.Context, id string, timestampMs int64, clientIP string) error
}

// DomainLists is the persisted pair of whitelist and blacklist.
type DomainLists interface {
	Whitelisted(ctx context.Context, domain string) (bool, error)
	Blacklisted(ctx context.Context, domain string) (bool, error)
	AddToWhitelist(ctx context.Context, domain string) (added bool, err error)
	Whitelist(ctx context.Context) ([]string, error)
}

// Dispatcher delivers a rendered email.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, html, text string) (bool, error)
}

// TOTPValidator checks a one time code against a shared secret.
type TOTPValidator interface {
	Validate(code, secret string) bool
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// ResolveLogger picks a named logger from provider, falling back to logger
// and finally to the built in default.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return providerFromLogger(logger), logger
}

type staticProvider struct {
	logger Logger
}

func (p staticProvider) GetLogger(string) Logger {
	return p.logger
}

func providerFromLogger(logger Logger) LoggerProvider {
	return staticProvider{logger: logger}
}

func defaultLogger() Logger {
	return defLogger{}
}

// DefaultLogger is the dependency free logger used when none is given.
func DefaultLogger() Logger {
	return defaultLogger()
}

type defLogger struct{}

func (d defLogger) Trace(msg string, args ...any) { d.print("TRC", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Fatal(msg string, args ...any) { d.print("FTL", msg, args...) }

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func (defLogger) print(level, msg string, args ...any) {
	line := fmt.Sprintf("[%s] ADMISSION %s", level, msg)
	for i := 0; i+1 < len(args); i += 2 {
		line += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		line += fmt.Sprintf(" %v", args[len(args)-1])
	}
	fmt.Println(line)
}
