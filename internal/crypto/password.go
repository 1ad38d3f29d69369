package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost mirrors the teacher's preference for a cost high
// enough to resist offline attack without making operator login feel slow.
const DefaultBcryptCost = bcrypt.DefaultCost + 2

// ErrPasswordTooShort is returned by HashPassword for operator passwords
// below the minimum length required by §4.7.
var ErrPasswordTooShort = errors.New("crypto: password must be at least 8 characters")

// HashPassword bcrypt-hashes an operator password of at least 8
// characters. bcrypt only uses the first 72 bytes, so longer passwords
// are truncated to 72 bytes before hashing; VerifyPassword applies the
// same truncation.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", ErrPasswordTooShort
	}
	pw := []byte(password)
	if len(pw) > 72 {
		pw = pw[:72]
	}

	hash, err := bcrypt.GenerateFromPassword(pw, DefaultBcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the bcrypt hash
// produced by HashPassword, without leaking timing differences beyond
// what bcrypt.CompareHashAndPassword itself provides.
func VerifyPassword(password, hash string) bool {
	pw := []byte(password)
	if len(pw) > 72 {
		pw = pw[:72]
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), pw) == nil
}
