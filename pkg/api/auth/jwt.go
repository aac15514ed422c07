// Package auth issues and validates the bearer tokens the HTTP API
// accepts. Tokens are HMAC-signed JWTs carrying the user and optional
// team the request acts as.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the JWT claims carried by every token.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"uid"`
	TeamID    string    `json:"tid,omitempty"`
	TokenType TokenType `json:"typ"`
}

// IsAccessToken reports whether the token authorizes API calls.
func (c *Claims) IsAccessToken() bool { return c.TokenType == TokenTypeAccess }

// IsRefreshToken reports whether the token can mint new access tokens.
func (c *Claims) IsRefreshToken() bool { return c.TokenType == TokenTypeRefresh }

// JWTConfig holds configuration for token generation.
type JWTConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "cloudrove".
	Issuer string

	// AccessTokenDuration is the lifetime of access tokens. Default: 15 minutes.
	AccessTokenDuration time.Duration

	// RefreshTokenDuration is the lifetime of refresh tokens. Default: 7 days.
	RefreshTokenDuration time.Duration
}

// JWTService handles token generation and validation.
type JWTService struct {
	config JWTConfig
}

// TokenPair contains both access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewJWTService creates a JWT service with the given configuration.
func NewJWTService(config JWTConfig) (*JWTService, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "cloudrove"
	}
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}
	if config.RefreshTokenDuration == 0 {
		config.RefreshTokenDuration = 7 * 24 * time.Hour
	}
	return &JWTService{config: config}, nil
}

// GenerateTokenPair creates a new access/refresh token pair for the
// given user acting in the given team scope (empty for personal scope).
func (s *JWTService) GenerateTokenPair(userID, teamID string) (*TokenPair, error) {
	now := time.Now()
	accessExpiry := now.Add(s.config.AccessTokenDuration)
	refreshExpiry := now.Add(s.config.RefreshTokenDuration)

	accessToken, err := s.generateToken(userID, teamID, TokenTypeAccess, now, accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := s.generateToken(userID, teamID, TokenTypeRefresh, now, refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenDuration.Seconds()),
		ExpiresAt:    accessExpiry,
	}, nil
}

func (s *JWTService) generateToken(userID, teamID string, tokenType TokenType, issuedAt, expiresAt time.Time) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    userID,
		TeamID:    teamID,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", ErrTokenSigningFailed
	}
	return signedToken, nil
}

// ValidateToken validates a token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateAccessToken validates a token and ensures it is an access token.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsAccessToken() {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// ValidateRefreshToken validates a token and ensures it is a refresh token.
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefreshToken() {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}
