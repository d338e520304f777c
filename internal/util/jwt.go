package util

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims is the claim set carried by admin service tokens.
type AdminClaims struct {
	jwt.RegisteredClaims
}

// ValidateAdminToken validates an HMAC-signed admin bearer token against the
// shared secret. Admin tokens are issued out of band; only HMAC signing is
// accepted here.
func ValidateAdminToken(tokenString, secret string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v (expected HMAC)", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}
