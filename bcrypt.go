package identity

import (
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashCost is the bcrypt work factor used for every stored credential.
const HashCost = 12

// HashPassword will generate a password hash. Hashing failure is a
// configuration/environment fault, not a user error.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext password matches
// the hashed password. A simple mismatch returns ErrPasswordMismatch, never
// a panic or an opaque failure.
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	}
	return nil
}

// GenerateTemporaryPassword returns a random one-shot password for
// admin-created accounts. It is handed back to the caller exactly once and
// only its hash is ever persisted.
func GenerateTemporaryPassword() string {
	return uuid.NewString()
}
