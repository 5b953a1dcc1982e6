// README: HS256 bearer tokens for deployments and tools without Firebase.
package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"campusride/internal/types"
)

const jwtIssuer = "campusride"

type Claims struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	DriverVerified bool   `json:"driver_verified"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTVerifier{secret: []byte(secret), now: time.Now}, nil
}

// Mint signs a token for the identity, valid for ttl.
func (v *JWTVerifier) Mint(id types.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID:         string(id.ID),
		Role:           string(id.Role),
		DriverVerified: id.DriverVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id.ID),
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *JWTVerifier) VerifyIDToken(_ context.Context, raw string) (*Token, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithIssuer(jwtIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &Token{
		UID: claims.UserID,
		Claims: map[string]any{
			ClaimRole:           claims.Role,
			ClaimDriverVerified: claims.DriverVerified,
		},
	}, nil
}
