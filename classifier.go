package admission

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Classification is where a domain sits on the persisted lists.
type Classification struct {
	Domain      string
	Whitelisted bool
	Blacklisted bool
}

// Unknown is true for domains on neither list. Unknown domains are
// admitted but treated as provisionally untrusted.
func (c Classification) Unknown() bool {
	return !c.Whitelisted && !c.Blacklisted
}

// DomainClassifier answers list membership and permission questions about
// email domains.
type DomainClassifier struct {
	lists    DomainLists
	repo     IdentityRepository
	metrics  *Metrics
	logger   Logger
	provider LoggerProvider
}

// NewDomainClassifier creates a classifier over the given lists. Permission
// checks are delegated to repo.
func NewDomainClassifier(lists DomainLists, repo IdentityRepository) *DomainClassifier {
	provider, logger := ResolveLogger("admission.classifier", nil, nil)
	return &DomainClassifier{
		lists:    lists,
		repo:     repo,
		logger:   logger,
		provider: provider,
	}
}

// WithLogger overrides the classifier logger.
func (c *DomainClassifier) WithLogger(logger Logger) *DomainClassifier {
	c.provider, c.logger = ResolveLogger("admission.classifier", c.provider, logger)
	return c
}

// WithLoggerProvider resolves the classifier logger from provider.
func (c *DomainClassifier) WithLoggerProvider(provider LoggerProvider) *DomainClassifier {
	c.provider, c.logger = ResolveLogger("admission.classifier", provider, c.logger)
	return c
}

// WithMetrics records whitelist changes.
func (c *DomainClassifier) WithMetrics(m *Metrics) *DomainClassifier {
	c.metrics = m
	return c
}

// Classify looks the domain up on both lists.
func (c *DomainClassifier) Classify(ctx context.Context, domain string) (Classification, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	out := Classification{Domain: domain}

	white, err := c.lists.Whitelisted(ctx, domain)
	if err != nil {
		return out, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read domain whitelist").
			WithMetadata(map[string]any{"domain": domain})
	}

	black, err := c.lists.Blacklisted(ctx, domain)
	if err != nil {
		return out, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read domain blacklist").
			WithMetadata(map[string]any{"domain": domain})
	}

	out.Whitelisted = white
	out.Blacklisted = black
	return out, nil
}

// Allow reports whether identities of domain may register at all. This is
// the repository's view of permission, which can depend on org level rules
// and not only on the static lists.
func (c *DomainClassifier) Allow(ctx context.Context, domain string) (bool, error) {
	allowed, err := c.repo.ShouldAllowDomain(ctx, strings.ToLower(domain))
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check domain permission").
			WithMetadata(map[string]any{"domain": domain})
	}
	return allowed, nil
}

// AddToWhitelist inserts domain in the whitelist. It is a logged no-op when
// the domain is already listed.
func (c *DomainClassifier) AddToWhitelist(ctx context.Context, domain string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || domain == "undefined" {
		return withDetails(ErrInvalidRequest, map[string]any{"domain": domain})
	}

	if black, err := c.lists.Blacklisted(ctx, domain); err == nil && black {
		c.logger.Warn("whitelisting a blacklisted domain", "domain", domain)
	}

	added, err := c.lists.AddToWhitelist(ctx, domain)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update domain whitelist").
			WithMetadata(map[string]any{"domain": domain})
	}

	if !added {
		c.logger.Info("domain is already in the whitelist", "domain", domain)
		return nil
	}

	c.metrics.whitelisted()
	c.logger.Info("domain added to whitelist", "domain", domain)
	return nil
}

// Whitelist returns the lower cased whitelist.
func (c *DomainClassifier) Whitelist(ctx context.Context) ([]string, error) {
	list, err := c.lists.Whitelist(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read domain whitelist")
	}
	out := make([]string, 0, len(list))
	for _, d := range list {
		out = append(out, strings.ToLower(d))
	}
	return out, nil
}
