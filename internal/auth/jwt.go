package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity attached to every connection. The collaboration
// engine only consumes identity; issuing/refreshing tokens lives elsewhere.
type Claims struct {
	UserID      string `json:"sub"`
	DisplayName string `json:"username"`
	Type        string `json:"typ"`
	jwt.RegisteredClaims
}

func SignAccessToken(secret []byte, userID, displayName string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:      userID,
		DisplayName: displayName,
		Type:        "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
