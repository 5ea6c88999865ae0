// Package middleware holds the gin middleware for access control and CORS.
package middleware

import (
	"crypto/subtle"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/JillVernus/chat-relay/internal/config"
)

// ContextKeyUserID carries the authenticated subject through the request
const ContextKeyUserID = "userID"

// secureCompare performs a constant-time comparison of two strings
// to prevent timing attacks
func secureCompare(a, b string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// getAPIKey extracts the access key from headers
func getAPIKey(c *gin.Context) string {
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// AccessKeyMiddleware guards the chat ingress with the service access key
func AccessKeyMiddleware(envCfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !secureCompare(getAPIKey(c), envCfg.AccessKey) {
			log.Printf("🔒 Access key rejected - IP: %s", c.ClientIP())
			c.JSON(401, gin.H{"error": "Invalid or missing access key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ChannelAuthMiddleware authorizes channel subscriptions: the JWT subject
// must match the :userID path segment, so a user can only subscribe to
// their own stream.
func ChannelAuthMiddleware(envCfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := getAPIKey(c)
		if tokenString == "" {
			tokenString = c.Query("token") // EventSource cannot set headers
		}
		if tokenString == "" {
			c.JSON(401, gin.H{"error": "Missing channel token"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(envCfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			log.Printf("🔒 Channel token rejected - IP: %s: %v", c.ClientIP(), err)
			c.JSON(401, gin.H{"error": "Invalid channel token"})
			c.Abort()
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			c.JSON(401, gin.H{"error": "Token has no subject"})
			c.Abort()
			return
		}

		if userID := c.Param("userID"); subject != userID {
			log.Printf("🔒 Subject %s refused access to channel of %s - IP: %s", subject, userID, c.ClientIP())
			c.JSON(403, gin.H{"error": "Channel belongs to another user"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, subject)
		c.Next()
	}
}
