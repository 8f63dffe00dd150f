package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"schoolportal/internal/accessgate"
	"schoolportal/internal/roster"
)

const claimsKey = "claims"

// RequireAuth enforces bearer JWT tokens signed with HS256 and stores the
// parsed claims on the request context.
func RequireAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "missing bearer token",
				"redirect": accessgate.LandingPath,
			})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "invalid token",
				"redirect": accessgate.LandingPath,
			})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireAuth.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

// RequireRole guards a route group for one role. The role is read from the
// caller's user record, not the token, so a role revoked (or never written)
// in the store wins over a stale claim; any failure to resolve it decodes to
// student. Mismatches get the caller's own default view as redirect target.
func RequireRole(users roster.Store, required roster.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "not authenticated",
				"redirect": accessgate.LandingPath,
			})
			return
		}

		raw := ""
		u, err := users.GetUser(c.Request.Context(), claims.Subject)
		if err != nil {
			log.Printf("auth: role lookup for %s failed: %v", claims.Subject, err)
		} else if u != nil {
			raw = u.Role
		}
		role := roster.DecodeRole(raw)

		if role != required {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "forbidden",
				"redirect": accessgate.DefaultPath(role),
			})
			return
		}
		c.Next()
	}
}
