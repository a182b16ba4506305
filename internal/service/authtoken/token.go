package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/raspadinha/raspadinha/internal/apperrors"
)

const (
	defaultSigningMethod = "HS256"
	defaultTokenTTL      = 15 * time.Minute
)

// Claims carried by access tokens. Tokens are issued by the external auth
// service; this service only verifies them and reads the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

type Config struct {
	// Secret key shared with the auth service that signs access tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Token lifetime, used by Issue only
	TTL time.Duration
}

type Manager struct {
	key string
	alg jwt.SigningMethod
	ttl time.Duration
}

func New(cfg Config) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTokenTTL
	}

	return &Manager{
		key: cfg.SecretKey,
		alg: jwt.GetSigningMethod(cfg.Alg),
		ttl: cfg.TTL,
	}, nil
}

// Parse and validate access token, return the user id it carries.
// Every failure wraps apperrors.ErrUnauthenticated.
func (m *Manager) Parse(access string) (uuid.UUID, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: token is not valid. Err: %w", apperrors.ErrUnauthenticated, err)
	}

	if claims.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: token has no user id claim", apperrors.ErrUnauthenticated)
	}

	return claims.UserID, nil
}

// Issue signs a token for the user. The real issuer is the external auth
// service; this exists for tests and local tooling.
func (m *Manager) Issue(userID uuid.UUID) (string, error) {
	now := time.Now().Truncate(time.Second)

	token := jwt.NewWithClaims(
		m.alg,
		Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			},
			UserID: userID,
		},
	)

	signed, err := token.SignedString([]byte(m.key))
	if err != nil {
		return "", fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return signed, nil
}
