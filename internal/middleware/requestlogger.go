package middleware

import (
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"
)

// RequestLogger logs one structured entry per request and echoes an
// X-Request-ID header, generating one when the client did not send it.
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            req := c.Request()
            rid := req.Header.Get(echo.HeaderXRequestID)
            if rid == "" {
                rid = uuid.NewString()
            }
            c.Response().Header().Set(echo.HeaderXRequestID, rid)
            c.Set("request_id", rid)

            err := next(c)
            if err != nil {
                c.Error(err)
            }

            entry := log.WithFields(logrus.Fields{
                "request_id": rid,
                "method":     req.Method,
                "uri":        req.RequestURI,
                "status":     c.Response().Status,
                "latency":    time.Since(start).String(),
                "ip":         c.RealIP(),
            })
            if uid := UserID(c); uid != "" {
                entry = entry.WithField("user_id", uid)
            }
            switch {
            case c.Response().Status >= 500:
                if handled, ok := c.Get("error").(error); ok && err == nil {
                    err = handled
                }
                entry.WithError(err).Error("request failed")
            case c.Response().Status >= 400:
                entry.Warn("request rejected")
            default:
                entry.Info("request handled")
            }
            return nil
        }
    }
}
