package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
)

const (
	// TenantIDHeader carries the tenant the request operates on.
	TenantIDHeader = "X-Tenant-ID"

	// UserIDHeader carries the authenticated user, as resolved by the
	// gateway in front of this service.
	UserIDHeader = "X-User-ID"

	// UserRolesHeader carries a comma-separated role list.
	UserRolesHeader = "X-User-Roles"

	// SessionIDHeader carries the caller's session for the audit trail.
	SessionIDHeader = "X-Session-ID"

	// ActorKey is the key used to store the resolved actor in the context
	ActorKey = "actor"
)

// ActorContext resolves the acting user and tenant from the gateway-provided
// identity headers. Requests without a valid tenant and user are rejected:
// every payment operation is tenant-scoped and every mutation needs an
// attributable actor for its audit event.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := uuid.Parse(c.GetHeader(TenantIDHeader))
		if err != nil || tenantID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Missing or invalid " + TenantIDHeader + " header",
				},
			})
			return
		}

		userID, err := uuid.Parse(c.GetHeader(UserIDHeader))
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Missing or invalid " + UserIDHeader + " header",
				},
			})
			return
		}

		var roles []string
		if raw := c.GetHeader(UserRolesHeader); raw != "" {
			for _, role := range strings.Split(raw, ",") {
				if role = strings.TrimSpace(role); role != "" {
					roles = append(roles, role)
				}
			}
		}

		c.Set(ActorKey, audit.Actor{
			UserID:    userID,
			TenantID:  tenantID,
			Roles:     roles,
			SessionID: c.GetHeader(SessionIDHeader),
			IPAddress: c.ClientIP(),
		})

		c.Next()
	}
}

// GetActor retrieves the resolved actor from the gin context. The zero Actor
// is returned when ActorContext did not run.
func GetActor(c *gin.Context) audit.Actor {
	if v, exists := c.Get(ActorKey); exists {
		if actor, ok := v.(audit.Actor); ok {
			return actor
		}
	}
	return audit.Actor{}
}
