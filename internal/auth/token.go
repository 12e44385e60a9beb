package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
)

const tokenBytes = 32

// NewOpaqueToken returns a random URL-safe token and the hex sha-256 hash that
// gets persisted in its place.
func NewOpaqueToken() (raw string, hash string, err error) {
	return TokenGenerator{}.Generate()
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenGenerator issues opaque tokens. A nil Source reads crypto/rand.
type TokenGenerator struct {
	Source io.Reader
}

func (g TokenGenerator) Generate() (raw string, hash string, err error) {
	src := g.Source
	if src == nil {
		src = rand.Reader
	}
	buf := make([]byte, tokenBytes)
	if _, err = io.ReadFull(src, buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashToken(raw), nil
}
