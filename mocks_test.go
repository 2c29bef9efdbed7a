package accounts_test

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	accounts "github.com/goliatone/go-accounts"
)

// MockAccountStore implements accounts.AccountStore
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) Insert(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	args := m.Called(ctx, record)
	if fn, ok := args.Get(0).(func(context.Context, *accounts.Account) *accounts.Account); ok {
		return fn(ctx, record), args.Error(1)
	}
	if v := args.Get(0); v != nil {
		return v.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) FindByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) FindByUsername(ctx context.Context, username string) (*accounts.Account, error) {
	args := m.Called(ctx, username)
	if v := args.Get(0); v != nil {
		return v.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	args := m.Called(ctx, email)
	if v := args.Get(0); v != nil {
		return v.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) ListActive(ctx context.Context) ([]*accounts.Account, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) Save(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	args := m.Called(ctx, record)
	if fn, ok := args.Get(0).(func(context.Context, *accounts.Account) *accounts.Account); ok {
		return fn(ctx, record), args.Error(1)
	}
	if v := args.Get(0); v != nil {
		return v.(*accounts.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockTokenIssuer implements accounts.TokenIssuer
type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) Issue(ctx context.Context, identity accounts.Identity) (string, error) {
	args := m.Called(ctx, identity)
	return args.String(0), args.Error(1)
}

func (m *MockTokenIssuer) Validate(ctx context.Context, token string) (*accounts.SessionClaims, error) {
	args := m.Called(ctx, token)
	if v := args.Get(0); v != nil {
		return v.(*accounts.SessionClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenIssuer) RevokeAccount(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

// MockHasher implements accounts.PasswordHasher
type MockHasher struct {
	mock.Mock
}

func (m *MockHasher) Hash(plaintext string) (string, error) {
	args := m.Called(plaintext)
	return args.String(0), args.Error(1)
}

func (m *MockHasher) Verify(plaintext, hash string) bool {
	args := m.Called(plaintext, hash)
	return args.Bool(0)
}

// MockImageUploader implements accounts.ImageUploader
type MockImageUploader struct {
	mock.Mock
}

func (m *MockImageUploader) UploadImage(ctx context.Context, file accounts.ImageFile, bucket string) (string, error) {
	args := m.Called(ctx, file, bucket)
	return args.String(0), args.Error(1)
}

func (m *MockImageUploader) RemoveImage(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

// plainHasher stores "hashed:<plaintext>" so tests can tell hashes apart
// without paying for bcrypt.
type plainHasher struct{}

func (plainHasher) Hash(plaintext string) (string, error) {
	return "hashed:" + plaintext, nil
}

func (plainHasher) Verify(plaintext, hash string) bool {
	return hash == "hashed:"+plaintext
}

// recordingSink keeps every activity event it receives
type recordingSink struct {
	mu     sync.Mutex
	events []accounts.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) ofType(eventType accounts.ActivityEventType) []accounts.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]accounts.ActivityEvent, 0)
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingSink) Types() []accounts.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]accounts.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
