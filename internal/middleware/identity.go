package middleware

import "github.com/labstack/echo/v4"

// UserID returns the authenticated user id stored by JWTAuth, or "" for
// anonymous requests.
func UserID(c echo.Context) string {
    if s, ok := c.Get("user_id").(string); ok {
        return s
    }
    return ""
}

// rateKeyUser is UserID with a placeholder for anonymous callers.
func rateKeyUser(c echo.Context) string {
    if uid := UserID(c); uid != "" {
        return uid
    }
    return "anon"
}
