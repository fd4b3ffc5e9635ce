package admission

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService mints and validates session tokens.
type TokenService struct {
	signingKey []byte
	expiration time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// NewTokenService creates a HS256 token service from cfg.
func NewTokenService(cfg *Config, logger Logger) *TokenService {
	if logger == nil {
		logger = defaultLogger()
	}
	expiration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		expiration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}
	return &TokenService{
		signingKey: []byte(cfg.GetSigningKey()),
		expiration: expiration,
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock injects a custom clock (useful for tests).
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

// Generate creates a session token for rec.
func (ts *TokenService) Generate(rec *UserRecord) (string, error) {
	if rec == nil {
		return "", goerrors.New("record must not be nil", goerrors.CategoryInternal)
	}
	if len(ts.signingKey) == 0 {
		return "", goerrors.New("token signing key is not configured", goerrors.CategoryInternal)
	}

	now := ts.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   rec.ID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiration)),
		},
		UID:      rec.ID,
		UserRole: rec.Role,
		Org:      rec.Org,
		Domain:   rec.Domain,
		Verified: rec.Verified,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

// Validate parses and validates a token string.
func (ts *TokenService) Validate(tokenString string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(ts.now)}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		opts = append(opts, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, opts...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, withDetails(ErrTokenExpired, nil)
		}
		return nil, wrapAs(err, ErrTokenMalformed, nil)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, withDetails(ErrTokenMalformed, nil)
	}
	return claims, nil
}
