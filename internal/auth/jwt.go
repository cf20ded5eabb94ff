// Package auth issues and validates the email-verification and session
// tokens handed to dashboard users.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

type TokenType string

const (
	TokenTypeEmailVerification TokenType = "email_verification"
	TokenTypeSession           TokenType = "session"
)

const issuer = "gateway-control"

type Claims struct {
	AccountID string    `json:"user_id,omitempty"`
	Email     string    `json:"email"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret          []byte
	verificationTTL time.Duration
	sessionTTL      time.Duration
}

func NewTokenService(secret string, verificationTTL, sessionTTL time.Duration) *TokenService {
	return &TokenService{
		secret:          []byte(secret),
		verificationTTL: verificationTTL,
		sessionTTL:      sessionTTL,
	}
}

func (s *TokenService) IssueVerification(email string) (string, error) {
	return s.issue(Claims{Email: email, TokenType: TokenTypeEmailVerification}, email, s.verificationTTL)
}

func (s *TokenService) IssueSession(accountID, email string) (string, error) {
	return s.issue(Claims{AccountID: accountID, Email: email, TokenType: TokenTypeSession}, accountID, s.sessionTTL)
}

func (s *TokenService) ValidateVerification(token string) (*Claims, error) {
	return s.validate(token, TokenTypeEmailVerification)
}

func (s *TokenService) ValidateSession(token string) (*Claims, error) {
	claims, err := s.validate(token, TokenTypeSession)
	if err != nil {
		return nil, err
	}
	if claims.AccountID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) issue(claims Claims, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.TokenType, err)
	}
	return signed, nil
}

func (s *TokenService) validate(tokenString string, want TokenType) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != want || claims.Email == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
