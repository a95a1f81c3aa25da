package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finopshq/payment-ledger/internal/domain/audit"
)

func TestActorContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(captured *audit.Actor) *gin.Engine {
		router := gin.New()
		router.Use(ActorContext())
		router.GET("/test", func(c *gin.Context) {
			*captured = GetActor(c)
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("ResolvesActorFromHeaders", func(t *testing.T) {
		var captured audit.Actor
		router := newRouter(&captured)

		tenantID := uuid.New()
		userID := uuid.New()

		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(TenantIDHeader, tenantID.String())
		req.Header.Set(UserIDHeader, userID.String())
		req.Header.Set(UserRolesHeader, "finance_admin, approver")
		req.Header.Set(SessionIDHeader, "sess-42")

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, tenantID, captured.TenantID)
		assert.Equal(t, userID, captured.UserID)
		assert.Equal(t, []string{"finance_admin", "approver"}, captured.Roles)
		assert.Equal(t, "sess-42", captured.SessionID)
	})

	t.Run("RejectsMissingTenantHeader", func(t *testing.T) {
		var captured audit.Actor
		router := newRouter(&captured)

		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(UserIDHeader, uuid.NewString())

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, uuid.Nil, captured.TenantID, "handler must not run")
	})

	t.Run("RejectsMalformedUserHeader", func(t *testing.T) {
		var captured audit.Actor
		router := newRouter(&captured)

		req, _ := http.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(TenantIDHeader, uuid.NewString())
		req.Header.Set(UserIDHeader, "not-a-uuid")

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGetActor(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("ReturnsZeroActorWhenUnset", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		assert.Equal(t, audit.Actor{}, GetActor(c))
	})
}
