package middleware

import (
	"strings"

	"meetpact/core/cache"
	"meetpact/core/constants"
	"meetpact/core/controller"
	"meetpact/core/errors"
	"meetpact/core/logger"
	"meetpact/core/utils"

	"github.com/labstack/echo/v4"
)

// Middleware bundles the cross-cutting request handlers.
type Middleware struct {
	cache *cache.Cache
}

func NewMiddleware(c *cache.Cache) *Middleware {
	return &Middleware{cache: c}
}

// AuthMiddleware verifies the bearer credential and stores the resulting
// claims in the request context. This is the identity gate boundary: handlers
// below only ever see a verified user id.
func (m *Middleware) AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return controller.NewErrorResponse(401, errors.ErrMissingAuthorizationHeader, "missing authorization header")
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return controller.NewErrorResponse(401, errors.ErrInvalidTokenFormat, "invalid authorization header format")
			}
			token := parts[1]

			if m.cache != nil {
				blacklisted, err := m.cache.IsTokenBlacklisted(c.Request().Context(), token)
				if err != nil {
					logger.Error("Middleware:AuthMiddleware:IsTokenBlacklisted", err)
					return controller.NewErrorResponse(500, errors.ErrInternalServer, "failed to verify token")
				}
				if blacklisted {
					return controller.NewErrorResponse(401, errors.ErrUnauthorized, "token is revoked")
				}
			}

			claims, err := utils.ValidateAndParseToken(token)
			if err != nil {
				return controller.NewErrorResponse(401, errors.ErrUnauthorized, "invalid or expired token")
			}
			if claims.Scope != constants.ScopeTokenAccess {
				return controller.NewErrorResponse(401, errors.ErrUnauthorized, "token scope not allowed")
			}

			c.Set(constants.ContextTokenData, claims)
			return next(c)
		}
	}
}
