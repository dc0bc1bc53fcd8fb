package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestHasherRoundTrip(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	hashed, err := h.Hash("password1")
	require.NoError(t, err)
	assert.NotEqual(t, "password1", hashed)

	cost, err := bcrypt.Cost([]byte(hashed))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, h.Verify("password1", hashed))
	assert.False(t, h.Verify("password2", hashed))
	assert.False(t, h.Verify("password1", "not-a-hash"))
}

func TestHasherSaltsEachHash(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	first, err := h.Hash("password1")
	require.NoError(t, err)
	second, err := h.Hash("password1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewHasherCost(t *testing.T) {
	h, err := NewHasher(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCost, h.cost)

	_, err = NewHasher(bcrypt.MaxCost + 1)
	assert.Error(t, err)
}

func TestHasherRejectsOverlongPassword(t *testing.T) {
	h, err := NewHasher(bcrypt.MinCost)
	require.NoError(t, err)

	_, err = h.Hash(strings.Repeat("x", MaxPasswordBytes))
	require.NoError(t, err)
	_, err = h.Hash(strings.Repeat("x", MaxPasswordBytes+1))
	assert.Error(t, err)
}

func TestIssueAndVerifyToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token, claims, err := IssueToken(Claims{UserID: "u1", IssuedAt: now}, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), claims.ExpiresAt)
	assert.NotEmpty(t, claims.TokenID)

	got, err := VerifyToken(token, []byte(testSecret), jwt.WithTimeFunc(func() time.Time { return now.Add(time.Minute) }))
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, claims.TokenID, got.TokenID)
	assert.True(t, got.IssuedAt.Equal(now))
}

func TestIssueTokenRequiresTTL(t *testing.T) {
	_, _, err := IssueToken(Claims{UserID: "u1"}, []byte(testSecret), 0)
	assert.Error(t, err)

	_, _, err = IssueToken(Claims{UserID: " "}, []byte(testSecret), time.Hour)
	assert.Error(t, err)
}

func TestTokenExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := now
	svc, err := NewTokenService(testSecret, time.Second)
	require.NoError(t, err)
	svc = svc.WithClock(func() time.Time { return clock })

	dto, err := svc.Issue("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", dto.UserID)

	_, err = svc.Verify(dto.Token)
	require.NoError(t, err)

	clock = now.Add(2 * time.Second)
	_, err = svc.Verify(dto.Token)
	require.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTamperedTokenIsMalformed(t *testing.T) {
	svc, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	dto, err := svc.Issue("u1")
	require.NoError(t, err)

	parts := strings.Split(dto.Token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := strings.Join([]string{parts[0], parts[1], string(sig)}, ".")

	_, err = svc.Verify(tampered)
	require.ErrorIs(t, err, ErrTokenMalformed)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.False(t, errors.Is(err, ErrTokenExpired))

	_, err = svc.Verify("garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestTokenSignedWithOtherSecret(t *testing.T) {
	token, _, err := IssueToken(Claims{UserID: "u1"}, []byte("another-secret"), time.Hour)
	require.NoError(t, err)

	_, err = VerifyToken(token, []byte(testSecret))
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = VerifyToken(signed, []byte(testSecret))
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestNewTokenServiceValidation(t *testing.T) {
	_, err := NewTokenService("", time.Hour)
	assert.Error(t, err)
	_, err = NewTokenService(testSecret, 0)
	assert.Error(t, err)
}
