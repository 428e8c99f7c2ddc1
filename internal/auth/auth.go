package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"crewarchive.org/internal/policy"
)

const (
	issuer            = "crewarchive"
	secretEnvVariable = "CREWARCHIVE_AUTH_SECRET"
)

var (
	errMissingSecret = errors.New("auth secret is not configured")

	secretMu sync.Mutex
	secret   cachedSecret
)

type cachedSecret struct {
	value []byte
	err   error
	ready bool
}

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims used across the service. Level and Verified
// mirror what the identity provider knows at signing time; the request
// engine treats them as untrusted hints and re-reads the user record on
// every call.
type Claims struct {
	Level    int  `json:"level"`
	Verified bool `json:"verified"`
	jwt.RegisteredClaims
}

// Session is the verified acting principal extracted from a bearer token.
type Session struct {
	UserID   string
	Level    policy.Level
	Verified bool
}

// GenerateToken signs a JWT for the given user using HS256.
func GenerateToken(userID string, level policy.Level, verified bool, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if !level.Valid() {
		return "", fmt.Errorf("unknown auth level %d", level)
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		Level:    int(level),
		Verified: verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secretBytes)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate verifies the token signature and required claims.
func ParseAndValidate(token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	secretBytes, err := loadSecret()
	if err != nil {
		return Session{}, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secretBytes, nil
	})
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return Session{}, ErrInvalidToken
	}
	return Session{
		UserID:   claims.Subject,
		Level:    policy.Level(claims.Level),
		Verified: claims.Verified,
	}, nil
}

func validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if !policy.Level(claims.Level).Valid() {
		return fmt.Errorf("unknown auth level %d", claims.Level)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return errors.New("token not yet valid")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func loadSecret() ([]byte, error) {
	secretMu.Lock()
	defer secretMu.Unlock()
	if secret.ready {
		return secret.value, secret.err
	}
	raw := strings.TrimSpace(os.Getenv(secretEnvVariable))
	if raw == "" {
		secret.err = errMissingSecret
		secret.ready = true
		return nil, secret.err
	}
	secret.value = []byte(raw)
	secret.err = nil
	secret.ready = true
	return secret.value, nil
}

// ResetSecretForTests clears the cached secret value. Only intended for test use.
func ResetSecretForTests() {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = cachedSecret{}
}

type ctxKey string

const sessionKey ctxKey = "auth_session"

// ContextWithSession stores the acting principal in the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	s.UserID = strings.TrimSpace(s.UserID)
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext extracts the acting principal from context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	s, ok := ctx.Value(sessionKey).(Session)
	if !ok || s.UserID == "" {
		return Session{}, false
	}
	return s, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return s.UserID, true
}
