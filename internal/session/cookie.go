package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const cookieKeyInfo = "linkauth session cookie v1"

// cookieCodec signs session ids into cookie values. The value is an HS256
// JWT whose jti is the sid; expiry is enforced by the store, not the token.
type cookieCodec struct {
	key []byte
}

func newCookieCodec(secret string) (*cookieCodec, error) {
	if secret == "" {
		return nil, errors.New("empty secret")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(cookieKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return &cookieCodec{key: key}, nil
}

func (c *cookieCodec) Encode(sid string) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: sid})
	v, err := tok.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return v, nil
}

func (c *cookieCodec) Decode(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("verify session cookie: %w", err)
	}
	if claims.ID == "" {
		return "", errors.New("verify session cookie: missing sid")
	}
	return claims.ID, nil
}
