package utils

import (
    "context"
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
    tok, err := NewAccessToken(secret, "user-1", "learner@example.com", time.Hour)
    require.NoError(t, err)
    assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

    sub, err := ParseAccessToken(secret, tok.Token)
    require.NoError(t, err)
    assert.Equal(t, "user-1", sub)

    uid, err := TokenResolver{Secret: secret}.Resolve(context.Background(), tok.Token)
    require.NoError(t, err)
    assert.Equal(t, "user-1", uid)
}

func TestParseAccessTokenRejects(t *testing.T) {
    good, err := NewAccessToken(secret, "user-1", "", time.Hour)
    require.NoError(t, err)
    expired, err := NewAccessToken(secret, "user-1", "", -time.Minute)
    require.NoError(t, err)
    noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
        "exp": time.Now().Add(time.Hour).Unix(),
    }).SignedString([]byte(secret))
    require.NoError(t, err)
    hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
        "sub": "user-1",
        "exp": time.Now().Add(time.Hour).Unix(),
    }).SignedString([]byte(secret))
    require.NoError(t, err)

    cases := map[string]struct {
        secret string
        raw    string
    }{
        "wrong secret": {"other", good.Token},
        "expired":      {secret, expired.Token},
        "missing sub":  {secret, noSub},
        "other alg":    {secret, hs512},
        "garbage":      {secret, "not-a-jwt"},
    }
    for name, tc := range cases {
        t.Run(name, func(t *testing.T) {
            _, err := ParseAccessToken(tc.secret, tc.raw)
            assert.ErrorIs(t, err, ErrInvalidToken)
        })
    }

    _, err = NewAccessToken(secret, "", "", time.Hour)
    assert.Error(t, err)
}
