// Package auth verifies the access tokens that identify the vault owner
// calling the engine.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenHeader is the gRPC metadata key carrying the token.
const AccessTokenHeader = "access_token"

// Claims are the registered claims plus the owner the token was issued to.
type Claims struct {
	jwt.RegisteredClaims
	UserID string
}

// GenerateToken issues an HS256 token for userID valid for validityDuration.
func GenerateToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		UserID: userID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetUserIDFromToken validates tokenString and returns its owner. Every
// failure, expiry included, wraps common.ErrInvalidToken.
func GetUserIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return "", common.ErrInvalidToken
	}

	return claims.UserID, nil
}

// Expired reports whether err came from an expired token.
func Expired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
