package config

import (
    "context"
    "crypto/tls"
    "fmt"
    "net"
    "os"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisConfig locates the Redis server shared by the mapping cache and the
// rate limiter.
//
// Variables:
//   REDIS_HOST + REDIS_PORT – server address (wins over REDIS_ADDR)
//   REDIS_ADDR              – host:port shorthand, default localhost:6379
//   REDIS_PASSWORD          – optional password
//   REDIS_DB                – database number
//   REDIS_TLS               – enable TLS
//   REDIS_DIAL_TIMEOUT      – connect and startup ping bound, default 2s
//   REDIS_POOL_SIZE         – 0 keeps the go-redis default
type RedisConfig struct {
    Enabled     bool
    Addr        string
    Password    string
    DB          int
    TLS         bool
    DialTimeout time.Duration
    PoolSize    int
}

func LoadRedisConfig() RedisConfig {
    c := RedisConfig{
        Enabled:     envBool("REDIS_ENABLED", true),
        Addr:        envStr("REDIS_ADDR", "localhost:6379"),
        Password:    os.Getenv("REDIS_PASSWORD"),
        DB:          envInt("REDIS_DB", 0),
        TLS:         envBool("REDIS_TLS", false),
        DialTimeout: envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
        PoolSize:    envInt("REDIS_POOL_SIZE", 0),
    }
    if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
        c.Addr = host + ":" + port
    }
    return c
}

// NewRedisClient connects and pings the server.  On error no client is
// returned; callers run with the in-memory cache and without rate limiting.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
    if !cfg.Enabled {
        return nil, fmt.Errorf("redis disabled")
    }
    opt := &redis.Options{
        Addr:        cfg.Addr,
        Password:    cfg.Password,
        DB:          cfg.DB,
        DialTimeout: cfg.DialTimeout,
        PoolSize:    cfg.PoolSize,
    }
    if cfg.TLS {
        opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOf(cfg.Addr)}
    }
    client := redis.NewClient(opt)

    ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        _ = client.Close()
        return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
    }
    return client, nil
}

func hostOf(addr string) string {
    if h, _, err := net.SplitHostPort(addr); err == nil {
        return h
    }
    return addr
}
