package admission

import (
	"context"
	"time"
)

// EmailApprovalVerifier confirms ownership of a mailbox from the values of
// a verification link.
type EmailApprovalVerifier struct {
	repo     IdentityRepository
	sealer   *LinkSealer
	expiry   time.Duration
	skew     time.Duration
	now      func() time.Time
	metrics  *Metrics
	activity ActivitySink
	logger   Logger
	provider LoggerProvider
}

// VerifierOption configures the verifier.
type VerifierOption func(*EmailApprovalVerifier)

// WithVerifierClock injects a custom clock (useful for tests).
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *EmailApprovalVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithVerifierWindow overrides link expiry and the accepted skew.
func WithVerifierWindow(expiry, skew time.Duration) VerifierOption {
	return func(v *EmailApprovalVerifier) {
		if expiry > 0 {
			v.expiry = expiry
		}
		if skew > 0 {
			v.skew = skew
		}
	}
}

// WithVerifierConfig reads expiry and skew from cfg.
func WithVerifierConfig(cfg *Config) VerifierOption {
	return WithVerifierWindow(cfg.EmailExpiry(), cfg.SafeSkew())
}

// WithVerifierMetrics records verification outcomes.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *EmailApprovalVerifier) {
		v.metrics = m
	}
}

// WithVerifierActivitySink publishes approvals.
func WithVerifierActivitySink(sink ActivitySink) VerifierOption {
	return func(v *EmailApprovalVerifier) {
		v.activity = normalizeActivitySink(sink)
	}
}

// WithVerifierLoggerProvider resolves the verifier logger from provider.
func WithVerifierLoggerProvider(provider LoggerProvider) VerifierOption {
	return func(v *EmailApprovalVerifier) {
		v.provider, v.logger = ResolveLogger("admission.verifier", provider, v.logger)
	}
}

// NewEmailApprovalVerifier creates a verifier with the default window of
// seven days and ten seconds of skew.
func NewEmailApprovalVerifier(repo IdentityRepository, sealer *LinkSealer, opts ...VerifierOption) *EmailApprovalVerifier {
	provider, logger := ResolveLogger("admission.verifier", nil, nil)
	v := &EmailApprovalVerifier{
		repo:     repo,
		sealer:   sealer,
		expiry:   DefaultEmailExpiry,
		skew:     DefaultSafeSkewSeconds * time.Second,
		now:      time.Now,
		activity: noopActivitySink{},
		logger:   logger,
		provider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify opens token and approves the identity it names. It returns false
// with a nil error for every rejection, and false with an error only when
// the repository fails.
func (v *EmailApprovalVerifier) Verify(ctx context.Context, token EmailApprovalToken) (bool, error) {
	id, issuedAt, err := v.sealer.OpenApprovalToken(token)
	if err != nil {
		v.logger.Error("email approval failure due to bad link", "error", err)
		return v.reject("malformed"), nil
	}

	if !IsEmailShaped(id) {
		v.logger.Error("email approval failure due to bad email", "id", id)
		return v.reject("bad_email"), nil
	}

	v.logger.Info("got email approval", "id", id)

	record, err := v.repo.ExistsID(ctx, id)
	if err != nil {
		if HasTextCode(err, TextCodeIDDoesntExist) {
			v.logger.Error("email approval failure due to missing id", "id", id)
			return v.reject("missing"), nil
		}
		v.metrics.emailApproval("error")
		return false, err
	}

	if record.Approved && record.Verified {
		v.logger.Info("email approval id already approved", "id", id)
		v.metrics.emailApproval("already_approved")
		return true, nil
	}

	if elapsedSince(v.now(), record.RegisterDate) > v.expiry {
		v.logger.Error("email approval timed out", "id", id, "registerdate", record.RegisterDate)
		return v.reject("expired"), nil
	}

	if epochSkew(record.RegisterDate, issuedAt) > v.skew {
		v.logger.Error("email approval link time out of safe range",
			"id", id,
			"registerdate", record.RegisterDate,
			"linktime", issuedAt,
		)
		return v.reject("skew"), nil
	}

	// an admin may have approved the record before the link was used
	confirm, outcome := v.repo.ApproveUnknown, "approved"
	if record.Approved {
		confirm, outcome = v.repo.MarkVerified, "verified"
	}

	if err := confirm(ctx, id); err != nil {
		v.logger.Error("email approval failure due to db error", "id", id, "error", err)
		v.metrics.emailApproval("error")
		return false, err
	}

	v.logger.Info("email for id approved", "id", id, "outcome", outcome)
	v.metrics.emailApproval(outcome)
	recordActivity(ctx, v.activity, v.logger, ActivityEvent{
		EventType:  ActivityEventEmailApproved,
		UserID:     id,
		Metadata:   map[string]any{"outcome": outcome},
		OccurredAt: v.now(),
	})
	return true, nil
}

func (v *EmailApprovalVerifier) reject(outcome string) bool {
	v.metrics.emailApproval(outcome)
	return false
}
