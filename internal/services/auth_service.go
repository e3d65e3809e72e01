package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/school-system/exams/internal/config"
	"github.com/school-system/exams/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotActive      = errors.New("user not active")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
)

// AuthService issues the bearer tokens the exam API is called with. User
// records belong to the wider platform; only login and token rotation live here.
type AuthService struct {
	db     *gorm.DB
	cfg    *config.Config
	params *argon2id.Params
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Claims struct {
	UserID   uuid.UUID  `json:"user_id"`
	SchoolID *uuid.UUID `json:"school_id"`
	Role     string     `json:"role"`
	Name     string     `json:"name"`
	jwt.RegisteredClaims
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:  db,
		cfg: cfg,
		params: &argon2id.Params{
			Memory:      cfg.Argon2.Memory,
			Iterations:  cfg.Argon2.Iterations,
			Parallelism: cfg.Argon2.Parallelism,
			SaltLength:  cfg.Argon2.SaltLength,
			KeyLength:   cfg.Argon2.KeyLength,
		},
	}
}

func (s *AuthService) HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, s.params)
}

// VerifyPassword checks password against an argon2id hash, or a bcrypt hash
// carried over from older accounts. rehash is true for the latter.
func (s *AuthService) VerifyPassword(hash, password string) (match, rehash bool, err error) {
	if strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$") {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return false, false, nil
			}
			return false, false, err
		}
		return true, true, nil
	}
	match, err = argon2id.ComparePasswordAndHash(password, hash)
	return match, false, err
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	db := s.db.WithContext(ctx)
	var user models.User
	if err := db.Where("LOWER(email) = LOWER(?)", strings.TrimSpace(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !user.IsActive {
		return nil, nil, ErrUserNotActive
	}

	match, rehash, err := s.VerifyPassword(user.PasswordHash, password)
	if err != nil || !match {
		return nil, nil, ErrInvalidCredentials
	}
	if rehash {
		if hash, err := s.HashPassword(password); err == nil {
			if err := db.Model(&user).Update("password_hash", hash).Error; err != nil {
				log.Printf("auth: upgrade password hash for %s: %v", user.ID, err)
			}
		}
	}

	tokens, err := s.GenerateTokenPair(ctx, &user)
	if err != nil {
		return nil, nil, err
	}
	return tokens, &user, nil
}

func (s *AuthService) sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWT.Secret))
}

func (s *AuthService) GenerateTokenPair(ctx context.Context, user *models.User) (*TokenPair, error) {
	now := time.Now()
	access, err := s.sign(&Claims{
		UserID:   user.ID,
		SchoolID: user.SchoolID,
		Role:     user.Role,
		Name:     user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.AccessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	refresh, err := s.sign(&Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWT.RefreshExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
		},
	})
	if err != nil {
		return nil, err
	}

	rt := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: now.Add(s.cfg.JWT.RefreshExpiry),
	}
	if err := s.db.WithContext(ctx).Create(rt).Error; err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.JWT.AccessExpiry.Seconds()),
	}, nil
}

// RefreshTokens rotates a refresh token: the old one is revoked in the same
// transaction that issues the new pair.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.VerifyToken(refreshToken)
	if err != nil {
		return nil, err
	}

	var pair *TokenPair
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt models.RefreshToken
		if err := tx.Where("token = ?", refreshToken).First(&rt).Error; err != nil {
			return ErrInvalidToken
		}
		if rt.Revoked || time.Now().After(rt.ExpiresAt) {
			return ErrTokenRevoked
		}

		var user models.User
		if err := tx.First(&user, "id = ?", claims.UserID).Error; err != nil {
			return ErrInvalidToken
		}
		if !user.IsActive {
			return ErrUserNotActive
		}
		if err := tx.Model(&rt).Update("revoked", true).Error; err != nil {
			return err
		}

		scoped := &AuthService{db: tx, cfg: s.cfg, params: s.params}
		pair, err = scoped.GenerateTokenPair(ctx, &user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *AuthService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.JWT.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

func (s *AuthService) RevokeToken(ctx context.Context, refreshToken string) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ?", refreshToken).
		Update("revoked", true).Error
}

// CreateUser is used by the seed command.
func (s *AuthService) CreateUser(ctx context.Context, user *models.User, password string) error {
	hash, err := s.HashPassword(password)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return s.db.WithContext(ctx).Create(user).Error
}
