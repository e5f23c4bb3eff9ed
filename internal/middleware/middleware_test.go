package middleware

import (
    "errors"
    "io"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/sirupsen/logrus"
    "github.com/sirupsen/logrus/hooks/test"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/bini59/kiko-vooster/internal/config"
    "github.com/bini59/kiko-vooster/internal/utils"
)

const secret = "middleware-secret"

// whoami answers with the user id seen by the handler.
func whoami(c echo.Context) error {
    return c.String(http.StatusOK, "user="+UserID(c))
}

func serve(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(method, path, nil)
    if auth != "" {
        req.Header.Set(echo.HeaderAuthorization, auth)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec
}

func TestJWTAuth(t *testing.T) {
    e := echo.New()
    e.GET("/open", whoami, JWTAuth(secret))
    e.GET("/closed", whoami, JWTAuth(secret), RequireUser())

    tok, err := utils.NewAccessToken(secret, "user-42", "", time.Minute)
    require.NoError(t, err)
    other, err := utils.NewAccessToken("another-secret", "user-42", "", time.Minute)
    require.NoError(t, err)

    cases := []struct {
        name   string
        path   string
        auth   string
        status int
        body   string
    }{
        {"anonymous passes", "/open", "", http.StatusOK, "user="},
        {"valid token", "/open", "Bearer " + tok.Token, http.StatusOK, "user=user-42"},
        {"wrong scheme", "/open", "Basic abc", http.StatusUnauthorized, ""},
        {"foreign signature", "/open", "Bearer " + other.Token, http.StatusUnauthorized, ""},
        {"anonymous rejected", "/closed", "", http.StatusUnauthorized, ""},
        {"authenticated allowed", "/closed", "Bearer " + tok.Token, http.StatusOK, "user=user-42"},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rec := serve(e, http.MethodGet, tc.path, tc.auth)
            assert.Equal(t, tc.status, rec.Code)
            if tc.body != "" {
                assert.Equal(t, tc.body, rec.Body.String())
            } else {
                assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
            }
        })
    }
}

func TestBuildRateKey(t *testing.T) {
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/sync/mappings", nil)
    req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
    c := e.NewContext(req, httptest.NewRecorder())
    c.SetPath("/sync/mappings")

    cfg := config.RateLimitConfig{Prefix: "rl:sync"}
    for strategy, want := range map[string]string{
        "ip":         "rl:sync:ip:10.0.0.7",
        "user":       "rl:sync:user:anon",
        "route":      "rl:sync:route:POST /sync/mappings",
        "ip_user":    "rl:sync:ip:10.0.0.7:user:anon",
        "user_route": "rl:sync:user:anon:route:POST /sync/mappings",
        "":           "rl:sync:ip:10.0.0.7:user:anon:route:POST /sync/mappings",
    } {
        cfg.KeyStrategy = strategy
        assert.Equal(t, want, buildRateKey(cfg, c), strategy)
    }

    c.Set("user_id", "u-9")
    cfg.KeyStrategy = "USER"
    assert.Equal(t, "rl:sync:user:u-9", buildRateKey(cfg, c))
}

func TestTokenBucketIsNoopWithoutRedis(t *testing.T) {
    log := logrus.New()
    log.SetOutput(io.Discard)
    e := echo.New()
    e.GET("/x", whoami, NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, log))

    for i := 0; i < 5; i++ {
        assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
    }
}

func TestTokenBucketFailsOpen(t *testing.T) {
    log, hook := test.NewNullLogger()
    rdb := redis.NewClient(&redis.Options{
        Addr:        "127.0.0.1:1",
        DialTimeout: 100 * time.Millisecond,
        MaxRetries:  -1,
    })
    defer rdb.Close()

    e := echo.New()
    cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl:test"}
    e.GET("/x", whoami, NewTokenBucket(cfg, rdb, log))

    assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
    require.NotNil(t, hook.LastEntry())
    assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRequestLogger(t *testing.T) {
    log, hook := test.NewNullLogger()
    e := echo.New()
    e.Use(RequestLogger(log))
    e.GET("/ok", whoami)
    e.GET("/boom", func(c echo.Context) error {
        c.Set("error", errors.New("store down"))
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
    })

    req := httptest.NewRequest(http.MethodGet, "/ok", nil)
    req.Header.Set(echo.HeaderXRequestID, "req-1")
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
    entry := hook.LastEntry()
    require.NotNil(t, entry)
    assert.Equal(t, logrus.InfoLevel, entry.Level)
    assert.Equal(t, "req-1", entry.Data["request_id"])
    assert.Equal(t, http.StatusOK, entry.Data["status"])

    rec = serve(e, http.MethodGet, "/boom", "")
    assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
    entry = hook.LastEntry()
    assert.Equal(t, logrus.ErrorLevel, entry.Level)
    assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "store down")

    serve(e, http.MethodGet, "/missing", "")
    assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
    assert.Equal(t, http.StatusNotFound, hook.LastEntry().Data["status"])
}
