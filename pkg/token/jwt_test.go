package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	m := NewJWTManager("test-secret", 1)

	tokenString, err := m.GenerateToken(42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	claims, err := m.VerifyToken(tokenString)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-a", 1)
	verifier := NewJWTManager("secret-b", 1)

	tokenString, err := issuer.GenerateToken(1, "alice")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(tokenString)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	m := NewJWTManager("test-secret", 1)

	// 手工构造一个已过期的 token，签名密钥相同
	claims := CustomClaims{
		UserID:   1,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = m.VerifyToken(expired)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsWrongSigningMethod(t *testing.T) {
	m := NewJWTManager("test-secret", 1)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, CustomClaims{UserID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.VerifyToken(unsigned)
	assert.Error(t, err)
}
