package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIdentityStore(t *testing.T, lists DomainLists) *IdentityStore {
	t.Helper()
	return NewIdentityStore(setupDB(t),
		WithStoreClock(func() time.Time { return testNow }),
		WithStoreDomainLists(lists),
		WithStorePasswordHasher(plainHash),
	)
}

func register(t *testing.T, s *IdentityStore, id, org string, role UserRole, approved bool) *UserRecord {
	t.Helper()
	rec, err := s.Register(context.Background(), NewUser{
		ID:       id,
		Name:     id,
		Org:      org,
		Password: "pw",
		Role:     role,
		Approved: approved,
		Domain:   DomainOf(id),
	})
	require.NoError(t, err)
	return rec
}

func TestIdentityStore_Register(t *testing.T) {
	s := setupIdentityStore(t, nil)
	ctx := context.Background()

	rec, err := s.Register(ctx, NewUser{
		ID:          " Ann@Acme.com ",
		Name:        "Ann",
		Org:         "Acme",
		Password:    "pw",
		TOTPSecret:  "SECRET",
		Role:        RoleAdmin,
		Approved:    true,
		VerifyEmail: true,
		Domain:      "Acme.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ann@acme.com", rec.ID)
	assert.Equal(t, "acme.com", rec.Domain)
	assert.False(t, rec.Verified)
	assert.True(t, rec.NeedsVerification)
	assert.Equal(t, testNow.Unix(), rec.RegisterDate)

	user, err := s.FindUser(ctx, "ANN@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "hash:pw", user.PasswordHash)
	assert.Equal(t, "SECRET", user.TOTPSecret)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", user.ID.String())

	root, err := s.GetRootOrgForDomain(ctx, "acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Acme", root)

	_, err = s.Register(ctx, NewUser{ID: "ann@acme.com", Org: "Acme", Password: "pw"})
	assert.True(t, HasTextCode(err, TextCodeIDExists))

	_, err = s.Register(ctx, NewUser{ID: "bob@acme.com", Org: "Acme", Password: ""})
	assert.Error(t, err)
	_, err = s.ExistsID(ctx, "bob@acme.com")
	assert.True(t, HasTextCode(err, TextCodeIDDoesntExist), "a failed registration writes nothing")
}

func TestIdentityStore_Orgs(t *testing.T) {
	s := setupIdentityStore(t, nil)
	ctx := context.Background()

	register(t, s, "ann@acme.com", "Acme", RoleAdmin, true)
	require.NoError(t, s.AddSubOrg(ctx, "Acme", "Acme Labs"))
	require.NoError(t, s.AddSubOrg(ctx, "Acme Labs", "Acme Labs Berlin"))
	register(t, s, "bob@acme.com", "Acme Labs", RoleUser, true)

	root, err := s.GetRootOrg(ctx, "acme labs berlin")
	require.NoError(t, err)
	assert.Equal(t, "Acme", root)

	root, err = s.GetRootOrg(ctx, "Nowhere")
	require.NoError(t, err)
	assert.Empty(t, root)

	subs, err := s.GetSubOrgs(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Acme Labs"}, subs)

	domains, err := s.GetDomainsForOrg(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme.com"}, domains, "the sub org user does not rebind the domain")

	users, err := s.GetUsersForRootOrg(ctx, "Acme")
	require.NoError(t, err)
	require.Len(t, users, 2)

	err = s.AddSubOrg(ctx, "Nowhere", "Orphan")
	assert.Error(t, err)
}

func TestIdentityStore_GetAdminsFor(t *testing.T) {
	s := setupIdentityStore(t, nil)
	ctx := context.Background()

	register(t, s, "ann@acme.com", "Acme", RoleAdmin, true)
	register(t, s, "pending@acme.com", "Acme", RoleAdmin, false)
	register(t, s, "bob@acme.com", "Acme", RoleUser, false)
	register(t, s, "zed@other.org", "Other", RoleAdmin, true)

	admins, err := s.GetAdminsFor(ctx, "bob@acme.com")
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "ann@acme.com", admins[0].ID)

	admins, err = s.GetAdminsFor(ctx, "ann@acme.com")
	require.NoError(t, err)
	assert.Empty(t, admins, "an admin is not notified about itself")

	_, err = s.GetAdminsFor(ctx, "ghost@acme.com")
	assert.True(t, HasTextCode(err, TextCodeIDDoesntExist))
}

func TestIdentityStore_ShouldAllowDomain(t *testing.T) {
	lists := NewMemoryDomainLists(nil, []string{"spam.io"})
	s := setupIdentityStore(t, lists)
	ctx := context.Background()

	register(t, s, "ann@acme.com", "Acme", RoleAdmin, true)

	for domain, want := range map[string]bool{
		"acme.com":  true,
		"newco.io":  true,
		"spam.io":   false,
		"SPAM.IO":   false,
		"undefined": false,
		"":          false,
	} {
		got, err := s.ShouldAllowDomain(ctx, domain)
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", domain)
	}

	require.NoError(t, s.SetOrgSuspended(ctx, "acme", true))
	allowed, err := s.ShouldAllowDomain(ctx, "acme.com")
	require.NoError(t, err)
	assert.False(t, allowed)

	require.NoError(t, s.SetOrgSuspended(ctx, "Acme", false))
	allowed, err = s.ShouldAllowDomain(ctx, "acme.com")
	require.NoError(t, err)
	assert.True(t, allowed)
}

type failingLists struct {
	*MemoryDomainLists
}

func (failingLists) Blacklisted(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestIdentityStore_ShouldAllowDomainListFailure(t *testing.T) {
	s := setupIdentityStore(t, failingLists{NewMemoryDomainLists(nil, nil)})

	_, err := s.ShouldAllowDomain(context.Background(), "acme.com")
	assert.Error(t, err)
}

func TestIdentityStore_Updates(t *testing.T) {
	s := setupIdentityStore(t, nil)
	ctx := context.Background()

	register(t, s, "ann@acme.com", "Acme", RoleAdmin, true)
	register(t, s, "bob@acme.com", "Acme", RoleUser, false)
	register(t, s, "carol@newco.io", "NewCo", RoleAdmin, false)

	require.NoError(t, s.Approve(ctx, "bob@acme.com", ""))
	bob, err := s.ExistsID(ctx, "bob@acme.com")
	require.NoError(t, err)
	assert.True(t, bob.Approved)
	assert.Equal(t, "Acme", bob.Org)

	require.NoError(t, s.ApproveUnknown(ctx, "carol@newco.io"))
	carol, err := s.ExistsID(ctx, "carol@newco.io")
	require.NoError(t, err)
	assert.True(t, carol.Approved)
	assert.True(t, carol.Verified)

	dave, err := s.Register(ctx, NewUser{ID: "dave@acme.com", Org: "Acme", Password: "pw", Approved: true, VerifyEmail: true, Domain: "acme.com"})
	require.NoError(t, err)
	require.False(t, dave.Verified)
	require.NoError(t, s.MarkVerified(ctx, "dave@acme.com"))
	dave, err = s.ExistsID(ctx, "dave@acme.com")
	require.NoError(t, err)
	assert.True(t, dave.Verified)
	assert.True(t, dave.Approved)

	at := testNow.Add(time.Minute)
	require.NoError(t, s.UpdateLoginStats(ctx, "ann@acme.com", at.UnixMilli(), "192.0.2.1"))
	ann, err := s.FindUser(ctx, "ann@acme.com")
	require.NoError(t, err)
	require.NotNil(t, ann.LastLoginAt)
	assert.True(t, at.Equal(*ann.LastLoginAt))
	assert.Equal(t, "192.0.2.1", ann.LastLoginIP)

	for name, err := range map[string]error{
		"approve":         s.Approve(ctx, "ghost@acme.com", "Acme"),
		"approve unknown": s.ApproveUnknown(ctx, "ghost@acme.com"),
		"login stats":     s.UpdateLoginStats(ctx, "ghost@acme.com", at.UnixMilli(), ""),
		"mark verified":   s.MarkVerified(ctx, "ghost@acme.com"),
	} {
		assert.True(t, HasTextCode(err, TextCodeIDDoesntExist), name)
	}

	require.NoError(t, s.DeleteUser(ctx, "bob@acme.com"))
	_, err = s.ExistsID(ctx, "bob@acme.com")
	assert.True(t, HasTextCode(err, TextCodeIDDoesntExist))
	assert.NoError(t, s.DeleteUser(ctx, "bob@acme.com"), "deleting twice is harmless")
}

func TestIdentityStore_GetNewOrgUsers(t *testing.T) {
	s := setupIdentityStore(t, nil)
	ctx := context.Background()

	register(t, s, "ann@acme.com", "Acme", RoleAdmin, true)
	register(t, s, "carol@newco.io", "NewCo", RoleAdmin, false)

	users, err := s.GetNewOrgUsers(ctx, []string{"ACME.com"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "carol@newco.io", users[0].ID)

	users, err = s.GetNewOrgUsers(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
