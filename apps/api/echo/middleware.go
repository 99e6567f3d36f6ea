package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/trezcool/gakuten/core/user"
)

// roleMiddleware lets through active users having one of roles. Admins always pass.
func roleMiddleware(svc user.ServiceInterface, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}
			if usr.IsAdmin() {
				return next(ctx)
			}
			for _, role := range roles {
				if usr.HasRole(role) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return roleMiddleware(svc)
}
