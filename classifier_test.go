package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDomainClassifier_Classify(t *testing.T) {
	lists := NewMemoryDomainLists([]string{"Acme.com"}, []string{"spam.io"})
	c := NewDomainClassifier(lists, &mockRepo{})
	ctx := context.Background()

	tests := []struct {
		domain      string
		whitelisted bool
		blacklisted bool
		unknown     bool
	}{
		{domain: "acme.com", whitelisted: true},
		{domain: " ACME.COM ", whitelisted: true},
		{domain: "spam.io", blacklisted: true},
		{domain: "newco.io", unknown: true},
	}

	for _, tc := range tests {
		got, err := c.Classify(ctx, tc.domain)
		require.NoError(t, err)
		assert.Equal(t, tc.whitelisted, got.Whitelisted, tc.domain)
		assert.Equal(t, tc.blacklisted, got.Blacklisted, tc.domain)
		assert.Equal(t, tc.unknown, got.Unknown(), tc.domain)
	}
}

func TestDomainClassifier_AllowDelegates(t *testing.T) {
	repo := &mockRepo{}
	repo.On("ShouldAllowDomain", mock.Anything, "acme.com").Return(true, nil)
	repo.On("ShouldAllowDomain", mock.Anything, "down.io").Return(false, errors.New("timeout"))

	c := NewDomainClassifier(NewMemoryDomainLists(nil, nil), repo)

	ok, err := c.Allow(context.Background(), "ACME.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Allow(context.Background(), "down.io")
	assert.Error(t, err)
	assert.False(t, ok)
	repo.AssertExpectations(t)
}

func TestDomainClassifier_AddToWhitelist(t *testing.T) {
	lists := NewMemoryDomainLists(nil, []string{"spam.io"})
	metrics := NewMetrics(prometheus.NewRegistry())
	c := NewDomainClassifier(lists, &mockRepo{}).WithMetrics(metrics)
	ctx := context.Background()

	require.NoError(t, c.AddToWhitelist(ctx, "NewCo.io"))
	require.NoError(t, c.AddToWhitelist(ctx, "newco.io"), "adding twice is a no-op")

	list, err := c.Whitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"newco.io"}, list)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DomainsWhitelisted))

	for _, domain := range []string{"", "  ", "undefined"} {
		err := c.AddToWhitelist(ctx, domain)
		assert.True(t, HasTextCode(err, TextCodeInvalidRequest), "%q", domain)
	}

	require.NoError(t, c.AddToWhitelist(ctx, "spam.io"))
	got, err := c.Classify(ctx, "spam.io")
	require.NoError(t, err)
	assert.True(t, got.Whitelisted)
	assert.True(t, got.Blacklisted)
	assert.False(t, got.Unknown())
}
