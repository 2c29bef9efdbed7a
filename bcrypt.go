package accounts

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = errors.New("password does not match hash")

// DefaultPasswordCost is the bcrypt work factor used when none is configured
const DefaultPasswordCost = 12

func hashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "unable to hash password")
	}
	return string(h), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// BcryptHasher is the PasswordHasher backed by bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher with the given work factor. A cost of
// zero selects the package default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = DefaultPasswordCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the configured work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash returns the salted bcrypt hash of plaintext
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if h.cost < bcrypt.MinCost || h.cost > bcrypt.MaxCost {
		return "", goerrors.New("bcrypt cost out of range", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"cost": h.cost})
	}
	return hashPassword(plaintext, h.cost)
}

// Verify reports whether plaintext matches hash. Malformed hashes never match.
func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	return ComparePasswordAndHash(plaintext, hash) == nil
}

type hashResult struct {
	hash string
	err  error
}

// hashWithContext runs the CPU bound hash on its own goroutine so a
// cancelled request returns without waiting for bcrypt.
func hashWithContext(ctx context.Context, hasher PasswordHasher, plaintext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan hashResult, 1)
	go func() {
		h, err := hasher.Hash(plaintext)
		done <- hashResult{hash: h, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		return res.hash, res.err
	}
}
