package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	// DefaultSecretLength is 32 bytes, 256 bits of entropy.
	DefaultSecretLength = 32
)

// SecretPair couples a raw bearer secret with the hash that may be
// persisted. The raw value is returned to the caller exactly once and is
// never recoverable from storage.
type SecretPair struct {
	Secret string // value returned to client
	Hash   string // value in storage
}

// GeneratePair creates a random url-safe secret of byteLength bytes of
// entropy together with its storage hash. Lengths <= 0 fall back to
// DefaultSecretLength.
func GeneratePair(byteLength int) (*SecretPair, error) {
	if byteLength <= 0 {
		byteLength = DefaultSecretLength
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}

	secret := base64.RawURLEncoding.EncodeToString(buf)
	return &SecretPair{
		Secret: secret,
		Hash:   HashSecret(secret),
	}, nil
}

// HashSecret returns the hex-encoded sha256 digest of a raw secret. This
// is the only form in which secrets are ever stored or looked up.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret reports whether secret hashes to storedHash, in constant
// time to prevent timing attacks.
func VerifySecret(secret, storedHash string) (bool, error) {
	if secret == "" || storedHash == "" {
		return false, errors.New("secret and hash cannot be empty")
	}

	hash := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(storedHash)) == 1, nil
}
