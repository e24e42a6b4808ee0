// Package otp generates one-time login codes.
package otp

import (
	"crypto/rand"
	"math/big"
	"strconv"
)

const (
	// Digits is the fixed length of every generated code.
	Digits = 6

	otpMin   = 100000
	otpRange = 900000
)

// GenerateOTP returns a 6-digit numeric code uniformly drawn from [100000, 999999].
// The first digit is never zero.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpRange))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(otpMin+n.Int64(), 10), nil
}

// ValidFormat reports whether s is exactly Digits ASCII digits.
func ValidFormat(s string) bool {
	if len(s) != Digits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
