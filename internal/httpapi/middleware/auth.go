package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"codecollab/internal/auth"
)

// Identity extracts the caller's identity from a bearer token and stores it
// in the gin context. Browsers cannot set headers on websocket requests, so
// ?token= is accepted as a fallback. Callers without a token get a minted
// anonymous identity; whether a session accepts it is decided at join time.
func Identity(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			tokenString = strings.TrimSpace(c.Query("token"))
		}
		if tokenString == "" {
			anonID := "anon-" + uuid.New().String()
			c.Set("userId", anonID)
			c.Set("displayName", "Guest-"+anonID[len(anonID)-4:])
			c.Set("anonymous", true)
			c.Next()
			return
		}

		claims, err := auth.ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "invalid token",
			})
			return
		}
		if claims.Type != "" && claims.Type != "access" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "access token required",
			})
			return
		}
		c.Set("userId", claims.UserID)
		c.Set("displayName", claims.DisplayName)
		c.Set("anonymous", false)
		c.Next()
	}
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
