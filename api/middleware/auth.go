package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/liliang-cn/ragstore/internal/config"
)

// UserKey is the context key carrying the resolved uploader identity.
const UserKey = "user"

// EndUserHeader lets a trusted service act on behalf of an end user. The
// delegated id becomes the uploader identity; the bearer identity must
// still pass the whitelist.
const EndUserHeader = "X-End-User"

// Auth verifies an HMAC-signed bearer token, enforces the allowed-users
// whitelist, and resolves the acting identity into the context.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedUsers))
	for _, user := range cfg.AllowedUsers {
		allowed[strings.ToLower(user)] = struct{}{}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			return
		}

		identity, _ := claims["email"].(string)
		if identity == "" {
			identity, _ = claims["sub"].(string)
		}
		if identity == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no identity"})
			return
		}

		if len(allowed) > 0 {
			if _, ok := allowed[strings.ToLower(identity)]; !ok {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user not permitted"})
				return
			}
		}

		if endUser := c.GetHeader(EndUserHeader); endUser != "" {
			identity = endUser
		}

		c.Set(UserKey, identity)
		c.Next()
	}
}

// User returns the acting identity set by Auth, or a fallback when auth
// is disabled.
func User(c *gin.Context) string {
	if user := c.GetString(UserKey); user != "" {
		return user
	}
	if endUser := c.GetHeader(EndUserHeader); endUser != "" {
		return endUser
	}
	return "anonymous"
}
