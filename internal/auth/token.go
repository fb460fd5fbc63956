package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/eventpass/server/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes access tokens from refresh tokens
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims is the payload carried by access and refresh tokens
type Claims struct {
	UserID        uuid.UUID           `json:"userId"`
	Email         string              `json:"email"`
	Role          model.Role          `json:"role"`
	HasProfile    bool                `json:"hasProfile"`
	AccountStatus model.AccountStatus `json:"accountStatus"`
	Type          TokenKind           `json:"type"`
	jwt.RegisteredClaims
}

// ClaimsForUser builds token claims from the user's current row
func ClaimsForUser(u model.User) Claims {
	return Claims{
		UserID:        u.ID,
		Email:         u.Email,
		Role:          u.Role,
		HasProfile:    u.HasProfile,
		AccountStatus: u.AccountStatus,
	}
}

// TokenCodec signs and verifies HS256 session tokens
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec creates a new token codec
func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Issue signs claims as a token of the given kind that expires after ttl
func (c *TokenCodec) Issue(claims Claims, kind TokenKind, ttl time.Duration) (string, error) {
	now := c.now()
	claims.Type = kind
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.UserID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return tokenString, nil
}

// Verify checks the signature and expiry and returns the claims. It does not check the token kind.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
