package repositories

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// Common repository errors
var (
	// ErrNotFound is returned when a document is not found
	ErrNotFound = mongo.ErrNoDocuments

	// ErrDuplicateKey is returned when trying to insert a duplicate document
	ErrDuplicateKey = errors.New("duplicate key error")

	// ErrStorage is returned when a transactional write cannot commit
	ErrStorage = errors.New("storage error")
)

// Domain-specific "not found" errors
// These wrap mongo.ErrNoDocuments to provide domain context
var (
	// ErrAccountNotFound is returned when an account is not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrTokenNotFound is returned when a reset token is not found or no
	// longer matches the conditional-update filter
	ErrTokenNotFound = errors.New("reset token not found")
)

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey checks if an error is a duplicate key error
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsDuplicateKeyError(err) || errors.Is(err, ErrDuplicateKey)
}

// IsStorage checks if an error indicates a failed transactional write
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsAccountNotFound checks if an error indicates an account was not found
func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// IsTokenNotFound checks if an error indicates a reset token was not found
func IsTokenNotFound(err error) bool {
	return errors.Is(err, ErrTokenNotFound)
}

// WrapNotFound wraps mongo.ErrNoDocuments with a domain-specific error,
// preserving the original driver error for errors.Is checks.
func WrapNotFound(original, domain error) error {
	return fmt.Errorf("%w: %w", domain, original)
}

// WrapStorage tags a failed transactional write with ErrStorage.
func WrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
