package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"fusionswap/crypto"
)

// AuthConfig configures bearer-token caller identity. Tokens are HS256 JWTs
// whose subject is the caller's account identifier.
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

type contextKey string

const (
	contextKeyCaller    contextKey = "fusiond.caller"
	contextKeyRequestID contextKey = "fusiond.request_id"
)

// Authenticator validates bearer tokens and stores the caller in the request
// context.
type Authenticator struct {
	cfg AuthConfig
	now func() time.Time
}

// NewAuthenticator returns an authenticator. An empty secret rejects every
// token.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}
	return &Authenticator{cfg: cfg, now: time.Now}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeProblem(w, r, http.StatusUnauthorized, "Unauthenticated", "missing bearer token")
			return
		}
		caller, err := a.Verify(tokenString)
		if err != nil {
			writeProblem(w, r, http.StatusUnauthorized, "Unauthenticated", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses tokenString and returns the subject account.
func (a *Authenticator) Verify(tokenString string) (crypto.AccountID, error) {
	if len(a.cfg.Secret) == 0 {
		return crypto.AccountID{}, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return crypto.AccountID{}, err
	}
	if !token.Valid {
		return crypto.AccountID{}, errors.New("token invalid")
	}
	caller, err := crypto.ParseAccountID(claims.Subject)
	if err != nil {
		return crypto.AccountID{}, fmt.Errorf("subject: %w", err)
	}
	if caller.IsZero() {
		return crypto.AccountID{}, errors.New("subject: zero account")
	}
	return caller, nil
}

// IssueToken mints a bearer token for subject. The CLI and tests use it; the
// daemon only verifies.
func IssueToken(cfg AuthConfig, subject crypto.AccountID, ttl time.Duration, now time.Time) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

// CallerFrom returns the authenticated caller.
func CallerFrom(ctx context.Context) (crypto.AccountID, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(crypto.AccountID)
	return caller, ok
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
