package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
)

// HeaderTenantID scopes operator requests to a tenant.
const HeaderTenantID = "X-Tenant-ID"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := fernctx.SetRequestID(req.Context(), requestID)
			if tenantID := req.Header.Get(HeaderTenantID); tenantID != "" {
				ctx = fernctx.SetTenantID(ctx, tenantID)
			}
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
