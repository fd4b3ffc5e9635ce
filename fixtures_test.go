package admission

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const testTOTPCode = "123456"

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, Migrate(context.Background(), db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

type fixture struct {
	cfg        *Config
	db         *bun.DB
	lists      *MemoryDomainLists
	store      *IdentityStore
	classifier *DomainClassifier
	dispatcher *recordingDispatcher
	notifier   *Notifier
	sealer     *LinkSealer
	jobs       *ManualQueue
	table      *ListenerTable
	listeners  *ListenerRegistry
	sink       *recordingSink
	engine     *Engine
}

// newFixture wires an engine over an in memory database. acme.com is
// whitelisted and spam.io blacklisted.
func newFixture(t *testing.T, configure func(cfg *Config)) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.VerifyEmailOnRegistration = false
	cfg.NewUsersNeedApprovalFromAdmin = true
	cfg.OpsMailbox = "ops@example.com"
	cfg.SigningKey = "test-signing-key"
	if configure != nil {
		configure(cfg)
	}

	f := &fixture{
		cfg:        cfg,
		db:         setupDB(t),
		lists:      NewMemoryDomainLists([]string{"acme.com"}, []string{"spam.io"}),
		dispatcher: newRecordingDispatcher(),
		jobs:       &ManualQueue{},
		table:      NewListenerTable(),
		sink:       &recordingSink{},
	}

	f.store = NewIdentityStore(f.db,
		WithStoreClock(func() time.Time { return testNow }),
		WithStoreDomainLists(f.lists),
		WithStorePasswordHasher(plainHash),
	)
	f.classifier = NewDomainClassifier(f.lists, f.store)

	var err error
	f.notifier, err = NewNotifier(f.dispatcher, cfg)
	require.NoError(t, err)

	f.sealer, err = NewLinkSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	f.listeners = NewListenerRegistry(f.table)

	f.engine = NewEngine(cfg, f.store, f.classifier, f.notifier, f.sealer,
		WithEngineTOTP(stubTOTP{code: testTOTPCode}),
		WithEngineListeners(f.listeners),
		WithEngineJobs(f.jobs),
		WithEngineActivitySink(f.sink),
		WithEngineClock(func() time.Time { return testNow }),
	)
	return f
}

func selfRequest(id, name, org string) RegistrationRequest {
	return RegistrationRequest{
		ID:         id,
		Name:       name,
		Org:        org,
		Password:   "s3cret",
		TOTPSecret: "JBSWY3DPEHPK3PXP",
		TOTPCode:   testTOTPCode,
		Lang:       "en",
	}
}

func (f *fixture) mustAdmit(t *testing.T, req RegistrationRequest) *RegistrationResult {
	t.Helper()
	res, err := f.engine.Admit(context.Background(), req, false)
	require.NoError(t, err)
	require.True(t, res.Result)
	return res
}

func jobNames(q *ManualQueue) []string {
	var names []string
	for _, j := range q.Jobs() {
		names = append(names, j.Name)
	}
	return names
}
