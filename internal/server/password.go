package server

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// PasswordHasher hashes account passwords with argon2id.
type PasswordHasher struct {
	params *argon2id.Params
}

// NewPasswordHasher uses params, or the library defaults when nil.
func NewPasswordHasher(params *argon2id.Params) *PasswordHasher {
	if params == nil {
		params = argon2id.DefaultParams
	}
	return &PasswordHasher{params: params}
}

// Hash returns an encoded hash that carries its own salt and parameters.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, h.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Compare verifies a password against a hash.
func (h *PasswordHasher) Compare(hash, password string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return match, nil
}
