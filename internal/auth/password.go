package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost settings encoded into every hash.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	KeyLen      uint32
}

// DefaultParams is sized for small servers.
var DefaultParams = Params{Memory: 32 * 1024, Iterations: 2, Parallelism: 1, KeyLen: 32}

const saltLen = 16

// dummyHash keeps Login timing flat when the email is unknown or the account
// has no password yet.
var dummyHash, _ = HashPassword("placeholder-password-never-matches")

func HashPassword(pw string) (string, error) {
	return hashWith(DefaultParams, pw)
}

func hashWith(p Params, pw string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(pw), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

type decodedHash struct {
	params Params
	salt   []byte
	key    []byte
}

func decode(encoded string) (decodedHash, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return decodedHash{}, false
	}
	var d decodedHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Iterations, &d.params.Parallelism); err != nil {
		return decodedHash{}, false
	}
	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return decodedHash{}, false
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return decodedHash{}, false
	}
	d.params.KeyLen = uint32(len(d.key))
	return d, true
}

// VerifyPassword checks pw against an encoded hash. An empty hash never
// verifies, which is the state of accounts that were never activated.
func VerifyPassword(encoded, pw string) bool {
	if encoded == "" {
		_ = verify(dummyHash, pw)
		return false
	}
	return verify(encoded, pw)
}

func verify(encoded, pw string) bool {
	d, ok := decode(encoded)
	if !ok {
		return false
	}
	other := argon2.IDKey([]byte(pw), d.salt, d.params.Iterations, d.params.Memory, d.params.Parallelism, d.params.KeyLen)
	return subtle.ConstantTimeCompare(d.key, other) == 1
}

// NeedsRehash reports whether encoded was made with other cost settings than
// DefaultParams. Login upgrades such hashes after a successful check.
func NeedsRehash(encoded string) bool {
	d, ok := decode(encoded)
	return !ok || d.params != DefaultParams
}
