// internal/auth/auth.go
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultExpiration 默认令牌有效期
const DefaultExpiration = 24 * time.Hour

const issuer = "scene-director"

// TokenConfig holds the configuration for token generation
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// NewTokenConfig 从共享密钥创建配置；密钥为空时返回 nil（不启用认证）
func NewTokenConfig(secret string, expiration time.Duration) *TokenConfig {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &TokenConfig{Secret: []byte(secret), Expiration: expiration}
}

// Token 已验证令牌中的信息
type Token struct {
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// GenerateToken 签发 HS256 令牌
func GenerateToken(subject string, scopes []string, config *TokenConfig) (string, error) {
	if config == nil || len(config.Secret) == 0 {
		return "", errors.New("secret key is required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(config.Expiration)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(config.Secret)
}

// ParseToken parses and validates a token
func ParseToken(tokenString string, config *TokenConfig) (*Token, error) {
	if config == nil || len(config.Secret) == 0 {
		return nil, errors.New("secret key is required")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(tokenString, c, func(t *jwt.Token) (any, error) {
		return config.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || c.Subject == "" {
		return nil, errors.New("invalid token")
	}

	token := &Token{Subject: c.Subject, Scopes: c.Scopes}
	if c.IssuedAt != nil {
		token.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		token.ExpiresAt = c.ExpiresAt.Time
	}
	return token, nil
}

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// GenerateSecureKey generates a secure random key for token signing
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32 // Default to 256 bits
	}

	key := make([]byte, length)
	_, err := rand.Read(key)
	if err != nil {
		return nil, err
	}

	return key, nil
}
