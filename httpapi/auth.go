package httpapi

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/poiconsole/schema"
)

// TokenVerifier decides whether a manager token is valid.
type TokenVerifier interface {
	Verify(token schema.Credential) bool
}

// BcryptVerifier checks tokens against a bcrypt hash.
type BcryptVerifier struct {
	hash []byte
}

// NewBcryptVerifier validates hash and returns a verifier for it.
func NewBcryptVerifier(hash string) (*BcryptVerifier, error) {
	if hash == "" {
		return nil, errors.New("token hash is required")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("invalid token hash: %w", err)
	}
	return &BcryptVerifier{hash: []byte(hash)}, nil
}

// Verify implements TokenVerifier. The empty token never verifies.
func (v *BcryptVerifier) Verify(token schema.Credential) bool {
	if v == nil || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(token)) == nil
}

// HashToken returns a bcrypt hash suitable for mock.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
