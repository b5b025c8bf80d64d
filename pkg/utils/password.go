package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is 2^12 rounds.
const DefaultBcryptCost = 12

// PasswordHasher hashes login passwords and password-history entries.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, hashedPassword string) bool
}

// BcryptHasher is a PasswordHasher backed by bcrypt. Each call to
// HashPassword draws a fresh salt.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{Cost: cost}
}

// HashPassword hashes a password using bcrypt
func (h *BcryptHasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hashedPassword. Malformed
// or empty hashes never match.
func (h *BcryptHasher) VerifyPassword(password, hashedPassword string) bool {
	if hashedPassword == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
