package admission

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
)

// mockRepo implements IdentityRepository
type mockRepo struct {
	mock.Mock
}

var _ IdentityRepository = (*mockRepo)(nil)

func (m *mockRepo) ExistsID(ctx context.Context, id string) (*UserRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*UserRecord)
	return rec, args.Error(1)
}

func (m *mockRepo) Approve(ctx context.Context, id, org string) error {
	return m.Called(ctx, id, org).Error(0)
}

func (m *mockRepo) ApproveUnknown(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) MarkVerified(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) Register(ctx context.Context, user NewUser) (*UserRecord, error) {
	args := m.Called(ctx, user)
	rec, _ := args.Get(0).(*UserRecord)
	return rec, args.Error(1)
}

func (m *mockRepo) DeleteUser(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) GetRootOrgForDomain(ctx context.Context, domain string) (string, error) {
	args := m.Called(ctx, domain)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) GetRootOrg(ctx context.Context, org string) (string, error) {
	args := m.Called(ctx, org)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) GetSubOrgs(ctx context.Context, org string) ([]string, error) {
	args := m.Called(ctx, org)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func (m *mockRepo) GetDomainsForOrg(ctx context.Context, org string) ([]string, error) {
	args := m.Called(ctx, org)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func (m *mockRepo) GetUsersForRootOrg(ctx context.Context, org string) ([]*UserRecord, error) {
	args := m.Called(ctx, org)
	out, _ := args.Get(0).([]*UserRecord)
	return out, args.Error(1)
}

func (m *mockRepo) GetAdminsFor(ctx context.Context, id string) ([]*UserRecord, error) {
	args := m.Called(ctx, id)
	out, _ := args.Get(0).([]*UserRecord)
	return out, args.Error(1)
}

func (m *mockRepo) ShouldAllowDomain(ctx context.Context, domain string) (bool, error) {
	args := m.Called(ctx, domain)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) GetNewOrgUsers(ctx context.Context, whitelist []string) ([]*UserRecord, error) {
	args := m.Called(ctx, whitelist)
	out, _ := args.Get(0).([]*UserRecord)
	return out, args.Error(1)
}

func (m *mockRepo) UpdateLoginStats(ctx context.Context, id string, timestampMs int64, clientIP string) error {
	return m.Called(ctx, id, timestampMs, clientIP).Error(0)
}

// stubTOTP accepts a single code.
type stubTOTP struct {
	code string
}

func (s stubTOTP) Validate(code, _ string) bool {
	return code == s.code
}

// plainPasswords stores passwords as "hash:<password>".
type plainPasswords struct{}

func plainHash(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}
	return "hash:" + password, nil
}

func (plainPasswords) HashPassword(password string) (string, error) {
	return plainHash(password)
}

func (plainPasswords) ComparePasswordAndHash(password, hash string) error {
	if "hash:"+password != hash {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

type sentEmail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// recordingDispatcher keeps every email it is asked to send.
type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []sentEmail
	accept bool
	err    error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{accept: true}
}

func (d *recordingDispatcher) Send(_ context.Context, to, subject, html, text string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.accept {
		d.sent = append(d.sent, sentEmail{To: to, Subject: subject, HTML: html, Text: text})
	}
	return d.accept, nil
}

func (d *recordingDispatcher) Sent() []sentEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]sentEmail, len(d.sent))
	copy(out, d.sent)
	return out
}

func (d *recordingDispatcher) SentTo(to string) []sentEmail {
	var out []sentEmail
	for _, e := range d.Sent() {
		if e.To == to {
			out = append(out, e)
		}
	}
	return out
}

// linkIn returns the first word of text starting with prefix.
func linkIn(text, prefix string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, prefix) {
			return field
		}
	}
	return ""
}

// recordingSink keeps every activity event.
type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) Last() ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return ActivityEvent{}
	}
	return s.events[len(s.events)-1]
}
