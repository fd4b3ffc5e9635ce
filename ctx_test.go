package admission

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestClaimsContext(t *testing.T) {
	tests := []struct {
		name      string
		setupCtx  func() context.Context
		wantOK    bool
		wantActor string
	}{
		{
			name: "claims present",
			setupCtx: func() context.Context {
				return WithClaimsContext(context.Background(), &SessionClaims{
					RegisteredClaims: jwt.RegisteredClaims{Subject: "ann@acme.com"},
					UserRole:         RoleAdmin,
				})
			},
			wantOK:    true,
			wantActor: "ann@acme.com",
		},
		{
			name:     "no claims",
			setupCtx: context.Background,
		},
		{
			name: "nil claims",
			setupCtx: func() context.Context {
				return WithClaimsContext(context.Background(), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.setupCtx()
			_, ok := ClaimsFromContext(ctx)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantActor, ActorFromContext(ctx))
		})
	}
}

func TestRecordActivityUsesContextActor(t *testing.T) {
	sink := &recordingSink{}
	ctx := WithClaimsContext(context.Background(), &SessionClaims{UID: "admin@acme.com"})

	recordActivity(ctx, sink, DefaultLogger(), ActivityEvent{EventType: ActivityEventUserApproved, UserID: "bob@acme.com"})
	recordActivity(ctx, sink, DefaultLogger(), ActivityEvent{EventType: ActivityEventUserApproved, ActorID: "explicit", UserID: "bob@acme.com"})

	assert.Equal(t, "admin@acme.com", sink.events[0].ActorID)
	assert.Equal(t, "explicit", sink.events[1].ActorID)
	assert.False(t, sink.events[0].OccurredAt.IsZero())
}
