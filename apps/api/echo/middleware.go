package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// verifiedEmailMiddleware gates all course, task and sync endpoints.
// Unverified accounts may authenticate and manage their own account,
// nothing else.
func verifiedEmailMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if !claims.EmailVerified {
				return errEmailNotVerified
			}
			return next(ctx)
		}
	}
}
