package ops

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/steward/internal/auth"
)

// TokenVerifier is the slice of auth.Manager the middleware needs; tests
// fake it.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt TokenVerifier
}

func NewAuthMiddleware(jwt TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

const (
	ctxRoleKey    = "auth.role"
	ctxSubjectKey = "auth.subject"
)

// RequireOps admits bearer tokens whose role claim is ops or admin. There is
// no user store behind this: tokens are minted out-of-band with the shared
// secret.
func (m *AuthMiddleware) RequireOps() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Missing or invalid Authorization header",
				},
			})
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))

		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Missing or invalid access token",
				},
			})
			return
		}

		claims, err := m.jwt.VerifyToken(raw)

		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "unauthorized",
					"message": "Invalid or expired access token",
				},
			})
			return
		}

		if claims.Role != auth.RoleOps && claims.Role != auth.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Ops role required",
				},
			})
			return
		}

		c.Set(ctxRoleKey, claims.Role)
		c.Set(ctxSubjectKey, claims.Subject)

		c.Next()
	}
}

// RoleFromContext exposes the verified role so handlers never touch the
// magic key.
func RoleFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxRoleKey)

	if !ok {
		return "", false
	}

	role, ok := v.(string)
	return role, ok
}

func SubjectFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxSubjectKey)

	if !ok {
		return "", false
	}

	sub, ok := v.(string)
	return sub, ok
}
