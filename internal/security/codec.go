// Package security holds the credential codec: opaque bearer token generation and the one-way
// digests used to store and compare tokens and OTPs without keeping their plaintext.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// TokenBytes is the amount of randomness in a bearer token (256 bits).
const TokenBytes = 32

// GenerateToken returns a new opaque bearer token: TokenBytes from crypto/rand encoded as
// URL-safe base64 without padding.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digest returns the SHA-256 hash of value, hex-encoded (64 lowercase characters).
// Session tokens are stored and looked up by this digest.
func Digest(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// DigestOTP binds an OTP to the phone number it was issued for and returns the digest of "phone:otp".
func DigestOTP(phone, otp string) string {
	return Digest(phone + ":" + otp)
}

// DigestEqual performs constant-time comparison of the provided value's digest with the stored digest.
// An empty stored digest never matches.
func DigestEqual(value, storedDigest string) bool {
	if storedDigest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Digest(value)), []byte(storedDigest)) == 1
}
