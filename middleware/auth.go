package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storefront/logging"
	"storefront/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	principalKey = "principal"
	tokenCookie  = "token"
)

const blacklistTimeout = 5 * time.Second

// TokenBlacklist reports tokens revoked by logout. Revocation happens in the
// account service; this service only reads the list.
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware verifies the HS256 token issued by the account service and
// stores the caller's principal on the request. Tokens carry userId and role claims.
// A nil blacklist skips the revocation check.
func AuthMiddleware(secret string, blacklist TokenBlacklist) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token required"})
			return
		}

		principal, err := parsePrincipal(tokenString, key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		if blacklist != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), blacklistTimeout)
			revoked, err := blacklist.IsBlacklisted(ctx, tokenString)
			cancel()
			if err != nil {
				logging.FromContext(c.Request.Context()).Error("token_blacklist_lookup_failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token has been blacklisted"})
				return
			}
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := CurrentPrincipal(c)
		if !ok || !principal.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Access denied: admin only"})
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the principal stored by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	if header != "" {
		return header
	}
	if cookie, err := c.Cookie(tokenCookie); err == nil {
		return cookie
	}
	return ""
}

func parsePrincipal(tokenString string, key []byte) (models.Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil || !token.Valid {
		return models.Principal{}, fmt.Errorf("parse token: %w", err)
	}

	rawID, _ := claims["userId"].(string)
	userID, err := primitive.ObjectIDFromHex(rawID)
	if err != nil {
		return models.Principal{}, fmt.Errorf("userId claim: %w", err)
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = models.RoleCustomer
	}
	return models.Principal{UserID: userID, Role: role}, nil
}
