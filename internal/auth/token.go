package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roomhub/apiserver/types"
)

var (
	// ErrInvalidToken is matched by every verification failure.
	ErrInvalidToken = errors.New("invalid token")

	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)
)

// Claims is the identity bound into a token.
type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// IssueToken signs claims with secret. The token expires ttl after
// claims.IssuedAt, or after now when IssuedAt is zero.
func IssueToken(claims Claims, secret []byte, ttl time.Duration) (string, Claims, error) {
	if ttl <= 0 {
		return "", Claims{}, errors.New("token ttl must be positive")
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return "", Claims{}, errors.New("token subject is required")
	}
	if claims.IssuedAt.IsZero() {
		claims.IssuedAt = time.Now()
	}
	if claims.TokenID == "" {
		claims.TokenID = uuid.NewString()
	}

	issuedAt := jwt.NewNumericDate(claims.IssuedAt)
	expiresAt := jwt.NewNumericDate(claims.IssuedAt.Add(ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			ID:        claims.TokenID,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("signing token: %w", err)
	}

	claims.IssuedAt = issuedAt.Time
	claims.ExpiresAt = expiresAt.Time
	return signed, claims, nil
}

// VerifyToken checks the signature and expiry of tokenString. Expired tokens
// fail with ErrTokenExpired; anything else with ErrTokenMalformed.
func VerifyToken(tokenString string, secret []byte, opts ...jwt.ParserOption) (Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	parsed := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return Claims{}, ErrTokenMalformed
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}

	claims := Claims{UserID: parsed.Subject, TokenID: parsed.ID}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// TokenService issues and verifies tokens with the process-wide secret and ttl.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source used for issuing and verifying.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	clone := *s
	clone.now = now
	return &clone
}

func (s *TokenService) Issue(userID string) (types.TokenDTO, error) {
	token, claims, err := IssueToken(Claims{UserID: userID, IssuedAt: s.now()}, s.secret, s.ttl)
	if err != nil {
		return types.TokenDTO{}, err
	}
	return types.TokenDTO{
		Token:     token,
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *TokenService) Verify(token string) (Claims, error) {
	return VerifyToken(token, s.secret, jwt.WithTimeFunc(s.now))
}

// TTL returns the lifetime of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}
