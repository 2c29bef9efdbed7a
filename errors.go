package accounts

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeValidation         = "VALIDATION_ERROR"
	TextCodeDuplicateKey       = "DUPLICATE_KEY"
	TextCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	TextCodeAlreadyDeleted     = "ACCOUNT_ALREADY_DELETED"
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeDependencyFailure  = "DEPENDENCY_FAILURE"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeTokenRevoked       = "TOKEN_REVOKED"
)

// ErrDuplicateKey is returned when a username or email is already taken
var ErrDuplicateKey = goerrors.New("account identifier already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateKey).
	WithCode(goerrors.CodeConflict)

// ErrAccountNotFound is returned when the target account does not exist
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrAlreadyDeleted is returned when operating on a soft-deleted account
var ErrAlreadyDeleted = goerrors.New("account already deleted", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyDeleted).
	WithCode(goerrors.CodeConflict)

// ErrInvalidCredentials is the single error surfaced for any failed login
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned by Validate for expired session tokens
var ErrTokenExpired = goerrors.New("session token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned by Validate for tokens that fail to parse or verify
var ErrTokenMalformed = goerrors.New("session token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenRevoked is returned by Validate for tokens no longer in the session registry
var ErrTokenRevoked = goerrors.New("session token revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can't be an empty string", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidation).
	WithCode(goerrors.CodeBadRequest)

// NewValidationError converts an ozzo validation error into a categorized error
func NewValidationError(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.FromOzzoValidation(err, message).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// NewDependencyFailure wraps a collaborator failure (store, hasher, token
// issuer, image service) so callers can tell it apart from client errors.
func NewDependencyFailure(err error, message string, metas ...map[string]any) error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode != "" {
		return goerrors.Wrap(err, richErr.Category, message).WithMetadata(metas...)
	}

	return goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithTextCode(TextCodeDependencyFailure).
		WithCode(http.StatusServiceUnavailable).
		WithMetadata(metas...)
}

func errWithMeta(base *goerrors.Error, metas ...map[string]any) error {
	return base.Clone().WithMetadata(metas...)
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsValidationError reports malformed or missing input
func IsValidationError(err error) bool {
	return goerrors.IsValidation(err)
}

// IsDuplicateKey reports an identifier collision
func IsDuplicateKey(err error) bool {
	return hasTextCode(err, TextCodeDuplicateKey)
}

// IsNotFound reports a missing account
func IsNotFound(err error) bool {
	return hasTextCode(err, TextCodeAccountNotFound)
}

// IsAlreadyDeleted reports an operation on a soft-deleted account
func IsAlreadyDeleted(err error) bool {
	return hasTextCode(err, TextCodeAlreadyDeleted)
}

// IsInvalidCredentials reports a failed authentication
func IsInvalidCredentials(err error) bool {
	return hasTextCode(err, TextCodeInvalidCredentials)
}

// IsDependencyFailure reports an unavailable collaborator
func IsDependencyFailure(err error) bool {
	return hasTextCode(err, TextCodeDependencyFailure)
}

// IsTokenError reports any session token validation failure
func IsTokenError(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired) ||
		hasTextCode(err, TextCodeTokenMalformed) ||
		hasTextCode(err, TextCodeTokenRevoked)
}
