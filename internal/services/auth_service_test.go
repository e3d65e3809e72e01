package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/school-system/exams/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testAuthService() *AuthService {
	return NewAuthService(nil, &config.Config{
		JWT:    config.JWTConfig{Secret: "test-secret", AccessExpiry: time.Minute, RefreshExpiry: time.Hour},
		Argon2: config.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
	})
}

func TestVerifyPassword(t *testing.T) {
	s := testAuthService()

	hash, err := s.HashPassword("correct horse")
	require.NoError(t, err)
	legacy, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name     string
		hash     string
		password string
		match    bool
		rehash   bool
	}{
		{"argon2id match", hash, "correct horse", true, false},
		{"argon2id mismatch", hash, "battery staple", false, false},
		{"bcrypt match", string(legacy), "correct horse", true, true},
		{"bcrypt mismatch", string(legacy), "battery staple", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, rehash, err := s.VerifyPassword(tt.hash, tt.password)
			require.NoError(t, err)
			assert.Equal(t, tt.match, match)
			assert.Equal(t, tt.rehash, rehash)
		})
	}
}

func TestVerifyToken(t *testing.T) {
	s := testAuthService()
	school := uuid.New()
	claims := &Claims{
		UserID:   uuid.New(),
		SchoolID: &school,
		Role:     "teacher",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := s.sign(claims)
	require.NoError(t, err)

	got, err := s.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, got.UserID)
	assert.Equal(t, school, *got.SchoolID)

	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	expired, err := s.sign(claims)
	require.NoError(t, err)
	_, err = s.VerifyToken(expired)
	assert.Error(t, err)

	other := testAuthService()
	other.cfg.JWT.Secret = "another-secret"
	_, err = other.VerifyToken(token)
	assert.Error(t, err)
}
