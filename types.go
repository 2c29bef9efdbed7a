package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logger used across the package. Arguments are
// key/value pairs, so *slog.Logger satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Identity holds the attributes a session token is bound to
type Identity interface {
	ID() string
	Username() string
	Email() string
	PermissionLevel() string
}

// Config holds account service options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetPasswordCost() int
	GetReserveDeletedIdentifiers() bool
	GetDefaultPermissionLevel() string
	GetDefaultPhoneRegion() string
}

// PasswordHasher one-way transforms and verifies passwords
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// TokenIssuer mints and validates session tokens
type TokenIssuer interface {
	Issue(ctx context.Context, identity Identity) (string, error)
	Validate(ctx context.Context, token string) (*SessionClaims, error)
	RevokeAccount(ctx context.Context, accountID uuid.UUID) error
}

// AccountStore is the persistence contract for account records
type AccountStore interface {
	Insert(ctx context.Context, record *Account) (*Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	ListActive(ctx context.Context) ([]*Account, error)
	Save(ctx context.Context, record *Account) (*Account, error)
}

// ImageUploader resolves an uploaded file into a stable image reference
type ImageUploader interface {
	UploadImage(ctx context.Context, file ImageFile, bucket string) (string, error)
	RemoveImage(ctx context.Context, ref string) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] ACCOUNTS " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] ACCOUNTS " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] ACCOUNTS " + format(msg, args...))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] ACCOUNTS " + format(msg, args...))
}

func format(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&b, " %v", args[i])
			break
		}
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a logger that discards everything
func NoopLogger() Logger {
	return noopLogger{}
}

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return defLogger{}
	}
	return logger
}
