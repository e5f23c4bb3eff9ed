package utils // package utils provides helpers for minting and checking access tokens

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// claim checks.
var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT whose subject is the user id.
// The token carries sub, exp and iat claims; email is added when non-empty.
func NewAccessToken(secret, subject, email string, ttl time.Duration) (AccessToken, error) {
    if subject == "" {
        return AccessToken{}, errors.New("token subject is required")
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub": subject,
        "exp": exp.Unix(),
        "iat": now.Unix(),
    }
    if email != "" {
        claims["email"] = email
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw with secret and returns its subject.
func ParseAccessToken(secret, raw string) (string, error) {
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        // reject anything that is not HMAC
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
        }
        return []byte(secret), nil
    }, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
    if err != nil || !tok.Valid {
        return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
    }
    sub, err := tok.Claims.GetSubject()
    if err != nil || sub == "" {
        return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
    }
    return sub, nil
}

// TokenResolver resolves WebSocket query tokens to user ids.
type TokenResolver struct {
    Secret string
}

func (r TokenResolver) Resolve(_ context.Context, token string) (string, error) {
    return ParseAccessToken(r.Secret, token)
}
