package admission

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// maxOrgDepth guards parent walks against cycles in the orgs table.
const maxOrgDepth = 16

// IdentityStore is the bun backed IdentityRepository.
type IdentityStore struct {
	repository.Repository[*User]
	db     *bun.DB
	lists  DomainLists
	now    func() time.Time
	hasher func(string) (string, error)
}

var (
	_ IdentityRepository            = (*IdentityStore)(nil)
	_ repository.Repository[*User]  = (*IdentityStore)(nil)
	_ repository.TransactionManager = (*IdentityStore)(nil)
)

// IdentityStoreOption configures an IdentityStore.
type IdentityStoreOption func(*IdentityStore)

// WithStoreClock injects the clock used for registration dates.
func WithStoreClock(now func() time.Time) IdentityStoreOption {
	return func(s *IdentityStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStoreDomainLists makes ShouldAllowDomain reject blacklisted domains.
func WithStoreDomainLists(lists DomainLists) IdentityStoreOption {
	return func(s *IdentityStore) {
		s.lists = lists
	}
}

// WithStorePasswordHasher overrides how passwords are hashed on Register.
func WithStorePasswordHasher(hasher func(string) (string, error)) IdentityStoreOption {
	return func(s *IdentityStore) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// NewIdentityStore creates the repository over db.
func NewIdentityStore(db *bun.DB, opts ...IdentityStoreOption) *IdentityStore {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	s := &IdentityStore{
		Repository: repo,
		db:         db,
		now:        time.Now,
		hasher:     HashPassword,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *IdentityStore) Validate() error {
	if s.db == nil {
		return errors.New("identity store requires a database")
	}
	if s.Repository == nil {
		return errors.New("identity store users repository should be initialized")
	}
	return nil
}

func (s *IdentityStore) MustValidate() {
	if err := s.Validate(); err != nil {
		log.Panic(err)
	}
}

func (s *IdentityStore) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return s.db.RunInTx(ctx, opts, f)
	}
}

// FindUser returns the full persisted user, credentials included.
func (s *IdentityStore) FindUser(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, s.db, id)
}

func (s *IdentityStore) findUser(ctx context.Context, tx bun.IDB, id string) (*User, error) {
	id = normalizeID(id)
	user := &User{}
	err := tx.NewSelect().
		Model(user).
		Where("?TableAlias.email = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withDetails(ErrIDDoesntExist, map[string]any{"id": id})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user").
			WithMetadata(map[string]any{"id": id})
	}
	return user, nil
}

func (s *IdentityStore) ExistsID(ctx context.Context, id string) (*UserRecord, error) {
	user, err := s.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Record(), nil
}

func (s *IdentityStore) Approve(ctx context.Context, id, org string) error {
	q := s.db.NewUpdate().
		Model((*User)(nil)).
		Set("approved = ?", true).
		Set("updated_at = ?", s.now())
	if strings.TrimSpace(org) != "" {
		q = q.Set("org = ?", org)
	}
	res, err := q.Where("email = ?", normalizeID(id)).Exec(ctx)
	return s.checkUpdated(res, err, id, "failed to approve user")
}

// ApproveUnknown marks a record approved after its owner proved control of
// the mailbox, which also verifies it.
func (s *IdentityStore) ApproveUnknown(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().
		Model((*User)(nil)).
		Set("approved = ?", true).
		Set("verified = ?", true).
		Set("updated_at = ?", s.now()).
		Where("email = ?", normalizeID(id)).
		Exec(ctx)
	return s.checkUpdated(res, err, id, "failed to approve unknown user")
}

func (s *IdentityStore) MarkVerified(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().
		Model((*User)(nil)).
		Set("verified = ?", true).
		Set("updated_at = ?", s.now()).
		Where("email = ?", normalizeID(id)).
		Exec(ctx)
	return s.checkUpdated(res, err, id, "failed to mark user verified")
}

func (s *IdentityStore) Register(ctx context.Context, in NewUser) (*UserRecord, error) {
	var created *User

	err := s.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		id := normalizeID(in.ID)

		if _, err := s.findUser(ctx, tx, id); err == nil {
			return withDetails(ErrIDExists, map[string]any{"id": id})
		} else if !HasTextCode(err, TextCodeIDDoesntExist) {
			return err
		}

		hash, err := s.hasher(in.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user := &User{
			Email:             id,
			Name:              in.Name,
			Org:               in.Org,
			Domain:            strings.ToLower(in.Domain),
			Role:              in.Role,
			PasswordHash:      hash,
			TOTPSecret:        in.TOTPSecret,
			Approved:          in.Approved,
			NeedsVerification: in.VerifyEmail,
			Verified:          !in.VerifyEmail,
			RegisterDate:      s.now().Unix(),
		}
		if uid, err := hashid.NewUUID(id); err == nil {
			user.ID = uid
		} else {
			user.ID = uuid.New()
		}

		if err := s.ensureOrgTx(ctx, tx, in.Org, user.Domain); err != nil {
			return err
		}

		if created, err = s.Repository.CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create user").
				WithMetadata(map[string]any{"id": id})
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	return created.Record(), nil
}

// ensureOrgTx creates the org of a first registration and binds the domain
// to its root when the domain is not owned yet.
func (s *IdentityStore) ensureOrgTx(ctx context.Context, tx bun.IDB, org, domain string) error {
	if strings.TrimSpace(org) == "" {
		return nil
	}

	exists, err := tx.NewSelect().Model((*Org)(nil)).Where("lower(name) = lower(?)", org).Exists(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up org")
	}
	if !exists {
		if _, err := tx.NewInsert().Model(&Org{Name: org}).Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create org").
				WithMetadata(map[string]any{"org": org})
		}
	}

	if domain == "" || domain == "undefined" {
		return nil
	}

	owned, err := tx.NewSelect().Model((*OrgDomain)(nil)).Where("domain = ?", domain).Exists(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up org domain")
	}
	if owned {
		return nil
	}

	root, err := s.rootOrg(ctx, tx, org)
	if err != nil {
		return err
	}
	if root == "" {
		root = org
	}
	if _, err := tx.NewInsert().Model(&OrgDomain{Domain: domain, Org: root}).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to bind domain to org").
			WithMetadata(map[string]any{"org": root, "domain": domain})
	}
	return nil
}

func (s *IdentityStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().
		Model((*User)(nil)).
		Where("email = ?", normalizeID(id)).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user").
			WithMetadata(map[string]any{"id": id})
	}
	return nil
}

func (s *IdentityStore) GetRootOrgForDomain(ctx context.Context, domain string) (string, error) {
	var binding OrgDomain
	err := s.db.NewSelect().
		Model(&binding).
		Where("domain = ?", strings.ToLower(domain)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find org for domain")
	}
	return s.rootOrg(ctx, s.db, binding.Org)
}

func (s *IdentityStore) GetRootOrg(ctx context.Context, org string) (string, error) {
	return s.rootOrg(ctx, s.db, org)
}

func (s *IdentityStore) rootOrg(ctx context.Context, tx bun.IDB, org string) (string, error) {
	current := org
	for range maxOrgDepth {
		var record Org
		err := tx.NewSelect().
			Model(&record).
			Where("lower(name) = lower(?)", current).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", nil
			}
			return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve root org")
		}
		if record.Parent == "" {
			return record.Name, nil
		}
		current = record.Parent
	}
	return "", goerrors.New("org hierarchy is too deep", goerrors.CategoryInternal).
		WithMetadata(map[string]any{"org": org})
}

// GetSubOrgs returns org and its direct sub orgs.
func (s *IdentityStore) GetSubOrgs(ctx context.Context, org string) ([]string, error) {
	var names []string
	err := s.db.NewSelect().
		Model((*Org)(nil)).
		Column("name").
		Where("lower(name) = lower(?)", org).
		WhereOr("lower(parent) = lower(?)", org).
		Order("name ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list sub orgs")
	}
	return names, nil
}

func (s *IdentityStore) GetDomainsForOrg(ctx context.Context, org string) ([]string, error) {
	var domains []string
	err := s.db.NewSelect().
		Model((*OrgDomain)(nil)).
		Column("domain").
		Where("lower(org) = lower(?)", org).
		Order("domain ASC").
		Scan(ctx, &domains)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list org domains")
	}
	return domains, nil
}

func (s *IdentityStore) GetUsersForRootOrg(ctx context.Context, org string) ([]*UserRecord, error) {
	orgs, err := s.GetSubOrgs(ctx, org)
	if err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		orgs = []string{org}
	}

	var users []*User
	err = s.db.NewSelect().
		Model(&users).
		Where("lower(?TableAlias.org) IN (?)", bun.In(lowerAll(orgs))).
		Order("register_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list org users")
	}
	return records(users), nil
}

// GetAdminsFor returns the approved admins of the root org of id.
func (s *IdentityStore) GetAdminsFor(ctx context.Context, id string) ([]*UserRecord, error) {
	user, err := s.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}

	root, err := s.GetRootOrg(ctx, user.Org)
	if err != nil {
		return nil, err
	}
	if root == "" {
		root = user.Org
	}

	members, err := s.GetUsersForRootOrg(ctx, root)
	if err != nil {
		return nil, err
	}

	admins := make([]*UserRecord, 0, len(members))
	for _, m := range members {
		if m.Role == RoleAdmin && m.Approved && m.ID != user.Email {
			admins = append(admins, m)
		}
	}
	return admins, nil
}

// ShouldAllowDomain rejects blacklisted domains and domains owned by a
// suspended org.
func (s *IdentityStore) ShouldAllowDomain(ctx context.Context, domain string) (bool, error) {
	domain = strings.ToLower(domain)
	if domain == "" || domain == "undefined" {
		return false, nil
	}

	if s.lists != nil {
		black, err := s.lists.Blacklisted(ctx, domain)
		if err != nil {
			return false, err
		}
		if black {
			return false, nil
		}
	}

	root, err := s.GetRootOrgForDomain(ctx, domain)
	if err != nil {
		return false, err
	}
	if root == "" {
		return true, nil
	}

	suspended, err := s.db.NewSelect().
		Model((*Org)(nil)).
		Where("name = ?", root).
		Where("suspended = ?", true).
		Exists(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check org suspension")
	}
	return !suspended, nil
}

// GetNewOrgUsers returns users whose domain is not on the whitelist.
func (s *IdentityStore) GetNewOrgUsers(ctx context.Context, whitelist []string) ([]*UserRecord, error) {
	var users []*User
	q := s.db.NewSelect().Model(&users).Order("register_date ASC")
	if len(whitelist) > 0 {
		q = q.Where("lower(?TableAlias.domain) NOT IN (?)", bun.In(lowerAll(whitelist)))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list new org users")
	}
	return records(users), nil
}

func (s *IdentityStore) UpdateLoginStats(ctx context.Context, id string, timestampMs int64, clientIP string) error {
	at := time.UnixMilli(timestampMs)
	res, err := s.db.NewUpdate().
		Model((*User)(nil)).
		Set("last_login_at = ?", at).
		Set("last_login_ip = ?", clientIP).
		Where("email = ?", normalizeID(id)).
		Exec(ctx)
	return s.checkUpdated(res, err, id, "failed to update login stats")
}

// AddSubOrg creates org under parent.
func (s *IdentityStore) AddSubOrg(ctx context.Context, parent, org string) error {
	root, err := s.GetRootOrg(ctx, parent)
	if err != nil {
		return err
	}
	if root == "" {
		return goerrors.New("parent org does not exist", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"parent": parent})
	}
	_, err = s.db.NewInsert().Model(&Org{Name: org, Parent: parent}).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create sub org").
			WithMetadata(map[string]any{"parent": parent, "org": org})
	}
	return nil
}

// SetOrgSuspended toggles the suspension flag of a root org.
func (s *IdentityStore) SetOrgSuspended(ctx context.Context, org string, suspended bool) error {
	_, err := s.db.NewUpdate().
		Model((*Org)(nil)).
		Set("suspended = ?", suspended).
		Where("lower(name) = lower(?)", org).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update org suspension")
	}
	return nil
}

func (s *IdentityStore) checkUpdated(res sql.Result, err error, id, msg string) error {
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
			WithMetadata(map[string]any{"id": id})
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return withDetails(ErrIDDoesntExist, map[string]any{"id": id})
	}
	return nil
}

func records(users []*User) []*UserRecord {
	out := make([]*UserRecord, 0, len(users))
	for _, u := range users {
		out = append(out, u.Record())
	}
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func containsFold(list []string, value string) bool {
	return slices.ContainsFunc(list, func(s string) bool {
		return strings.EqualFold(s, value)
	})
}
