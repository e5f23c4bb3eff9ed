package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/bini59/kiko-vooster/internal/utils"
)

// JWTAuth returns an Echo middleware that validates an optional Bearer
// access token.  Requests without an Authorization header pass through as
// anonymous; a header that is present but invalid is rejected with 401.
// The token subject is stored under "user_id" for UserID and RequireUser.
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if auth == "" {
                return next(c)
            }
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
            }
            sub, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid token"})
            }
            c.Set("user_id", sub)
            return next(c)
        }
    }
}

// RequireUser rejects anonymous requests.  It must run after JWTAuth.
func RequireUser() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if UserID(c) == "" {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "authentication required"})
            }
            return next(c)
        }
    }
}
