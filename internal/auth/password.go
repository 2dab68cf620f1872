// Package auth provides credential hashing and bearer token issuance for the
// account endpoints and the authentication middleware.
package auth

import "golang.org/x/crypto/bcrypt"

// HashCost is the bcrypt work factor used for stored passwords.
const HashCost = 10

// PasswordHasher hashes and verifies account passwords with bcrypt.
type PasswordHasher struct {
	Cost int
}

// NewPasswordHasher returns a hasher using HashCost.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{Cost: HashCost}
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = HashCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}

// Compare reports whether password matches hash. A malformed hash is a
// mismatch, not an error.
func (h *PasswordHasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
