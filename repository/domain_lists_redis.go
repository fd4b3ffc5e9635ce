package repository

import (
	"context"
	"slices"
	"strings"

	admission "github.com/goliatone/go-admission"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces the list keys.
const DefaultRedisKeyPrefix = "admission:domains:"

// RedisDomainLists keeps each list in a Redis set, so several server
// instances share one view of the whitelist.
type RedisDomainLists struct {
	client redis.UniversalClient
	prefix string
	logger admission.Logger
}

var _ admission.DomainLists = (*RedisDomainLists)(nil)

// RedisDomainListsOption configures the store.
type RedisDomainListsOption func(*RedisDomainLists)

// WithRedisKeyPrefix overrides DefaultRedisKeyPrefix.
func WithRedisKeyPrefix(prefix string) RedisDomainListsOption {
	return func(s *RedisDomainLists) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisLogger sets the store logger.
func WithRedisLogger(logger admission.Logger) RedisDomainListsOption {
	return func(s *RedisDomainLists) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisDomainLists wraps an existing client.
func NewRedisDomainLists(client redis.UniversalClient, opts ...RedisDomainListsOption) *RedisDomainLists {
	s := &RedisDomainLists{
		client: client,
		prefix: DefaultRedisKeyPrefix,
		logger: admission.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialRedisDomainLists parses a redis:// URL, connects and pings the server.
func DialRedisDomainLists(ctx context.Context, url string, opts ...RedisDomainListsOption) (*RedisDomainLists, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse redis URL")
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "redis ping failed")
	}
	return NewRedisDomainLists(client, opts...), nil
}

func (s *RedisDomainLists) whitelistKey() string { return s.prefix + "whitelist" }
func (s *RedisDomainLists) blacklistKey() string { return s.prefix + "blacklist" }

func (s *RedisDomainLists) Whitelisted(ctx context.Context, domain string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.whitelistKey(), strings.ToLower(domain)).Result()
	if err != nil {
		return false, s.wrap(err, "failed to read whitelist")
	}
	return ok, nil
}

func (s *RedisDomainLists) Blacklisted(ctx context.Context, domain string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.blacklistKey(), strings.ToLower(domain)).Result()
	if err != nil {
		return false, s.wrap(err, "failed to read blacklist")
	}
	return ok, nil
}

// AddToWhitelist relies on SADD to report whether domain was new.
func (s *RedisDomainLists) AddToWhitelist(ctx context.Context, domain string) (bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	n, err := s.client.SAdd(ctx, s.whitelistKey(), domain).Result()
	if err != nil {
		return false, s.wrap(err, "failed to add domain to whitelist")
	}
	if n == 0 {
		s.logger.Info("domain is already in the whitelist", "domain", domain)
		return false, nil
	}
	s.logger.Info("domain added to whitelist", "domain", domain)
	return true, nil
}

func (s *RedisDomainLists) Whitelist(ctx context.Context) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.whitelistKey()).Result()
	if err != nil {
		return nil, s.wrap(err, "failed to list whitelist")
	}
	slices.Sort(members)
	return members, nil
}

// Seed adds entries to both lists, typically from a file store on first
// start.
func (s *RedisDomainLists) Seed(ctx context.Context, whitelist, blacklist []string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if w := toMembers(whitelist); len(w) > 0 {
			pipe.SAdd(ctx, s.whitelistKey(), w...)
		}
		if b := toMembers(blacklist); len(b) > 0 {
			pipe.SAdd(ctx, s.blacklistKey(), b...)
		}
		return nil
	})
	if err != nil {
		return s.wrap(err, "failed to seed domain lists")
	}
	return nil
}

// Close releases the client.
func (s *RedisDomainLists) Close() error {
	return s.client.Close()
}

func (s *RedisDomainLists) wrap(err error, msg string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, msg).
		WithMetadata(map[string]any{"prefix": s.prefix})
}

func toMembers(in []string) []any {
	out := make([]any, 0, len(in))
	for _, d := range normalize(in) {
		out = append(out, d)
	}
	return out
}
