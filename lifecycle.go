package accounts

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Manager orchestrates account creation, authentication, merge updates and
// soft deletion. It holds no per-account state and is safe for concurrent
// use.
type Manager struct {
	store        AccountStore
	hasher       PasswordHasher
	tokens       TokenIssuer
	stateMachine AccountStateMachine
	activity     ActivitySink
	logger       Logger
	defaultLevel PermissionLevel
	phoneRegion  string
	now          func() time.Time

	dummyHashOnce sync.Once
	dummyHash     string
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerActivitySink sets the sink that receives account events
func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *Manager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithDefaultPermissionLevel sets the level given to accounts created
// without one. Defaults to guest.
func WithDefaultPermissionLevel(level PermissionLevel) ManagerOption {
	return func(m *Manager) {
		if level.IsValid() {
			m.defaultLevel = level
		}
	}
}

// WithPhoneRegion sets the region used to parse phone numbers without a
// country prefix.
func WithPhoneRegion(region string) ManagerOption {
	return func(m *Manager) {
		if region != "" {
			m.phoneRegion = strings.ToUpper(region)
		}
	}
}

// WithManagerStateMachine overrides the lifecycle state machine
func WithManagerStateMachine(sm AccountStateMachine) ManagerOption {
	return func(m *Manager) {
		m.stateMachine = sm
	}
}

// WithManagerClock overrides the clock used for activity timestamps
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerConfig applies the account options found in cfg
func WithManagerConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		if cfg == nil {
			return
		}
		if level, err := ParsePermissionLevel(cfg.GetDefaultPermissionLevel()); err == nil {
			m.defaultLevel = level
		}
		if region := cfg.GetDefaultPhoneRegion(); region != "" {
			m.phoneRegion = strings.ToUpper(region)
		}
	}
}

// NewManager creates a lifecycle manager
func NewManager(store AccountStore, hasher PasswordHasher, tokens TokenIssuer, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:        store,
		hasher:       hasher,
		tokens:       tokens,
		activity:     noopActivitySink{},
		logger:       defLogger{},
		defaultLevel: PermissionGuest,
		phoneRegion:  "US",
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.stateMachine == nil {
		m.stateMachine = NewAccountStateMachine(store,
			WithStateMachineActivitySink(m.activity),
			WithStateMachineLogger(m.logger),
			WithStateMachineClock(m.now),
		)
	}

	return m
}

// CreateAccount validates the input, stores a new active account and issues
// its first session token. When the token cannot be issued the stored
// account is still returned together with the error.
func (m *Manager) CreateAccount(ctx context.Context, in CreateAccountInput) (*Account, string, error) {
	in = in.Normalize()
	if err := in.Validate(m.phoneRegion); err != nil {
		return nil, "", err
	}

	level := m.defaultLevel
	if in.PermissionLevel != "" {
		level = PermissionLevel(in.PermissionLevel)
	}

	hash, err := m.hash(ctx, in.Password)
	if err != nil {
		return nil, "", err
	}

	record := &Account{
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		PhoneNumber01:   formatPhoneNumber(in.PhoneNumber01, m.phoneRegion),
		PhoneNumber02:   formatPhoneNumber(in.PhoneNumber02, m.phoneRegion),
		Email:           in.Email,
		Username:        in.Username,
		ProfileImage:    in.ProfileImage,
		PasswordHash:    hash,
		PermissionLevel: level,
	}

	created, err := m.store.Insert(ctx, record)
	if err != nil {
		m.logger.Debug("create account failed", "username", in.Username, "error", err)
		return nil, "", err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountCreated,
		Actor:     actorFrom(ctx),
		AccountID: created.ID.String(),
		ToStatus:  AccountStatusActive,
		Metadata: map[string]any{
			"permission_level": string(created.PermissionLevel),
		},
	})

	token, err := m.tokens.Issue(ctx, created.Identity())
	if err != nil {
		m.logger.Error("unable to issue token for new account", "account_id", created.ID.String(), "error", err)
		return created, "", NewDependencyFailure(err, "account created but token could not be issued", map[string]any{
			"account_id": created.ID.String(),
		})
	}

	return created, token, nil
}

// Authenticate verifies username and password against an active account.
// Unknown usernames, deleted accounts and wrong passwords all return the
// same ErrInvalidCredentials; the cause is only logged.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, m.loginFailed(ctx, "", "missing credentials")
	}

	account, err := m.store.FindByUsername(ctx, username)
	if err != nil {
		if IsNotFound(err) {
			m.hasher.Verify(password, m.fallbackHash())
			return nil, m.loginFailed(ctx, "", "unknown username")
		}
		return nil, NewDependencyFailure(err, "unable to authenticate")
	}

	matches := m.hasher.Verify(password, account.PasswordHash)

	if account.IsDeleted() {
		return nil, m.loginFailed(ctx, account.ID.String(), "account deleted")
	}

	if !matches {
		return nil, m.loginFailed(ctx, account.ID.String(), "password mismatch")
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorRef{ID: account.ID.String(), Type: "account"},
		AccountID: account.ID.String(),
	})

	return account, nil
}

// Login authenticates the credentials and issues a session token
func (m *Manager) Login(ctx context.Context, in LoginInput) (*Account, string, error) {
	if err := in.Validate(); err != nil {
		return nil, "", err
	}

	account, err := m.Authenticate(ctx, in.Username, in.Password)
	if err != nil {
		return nil, "", err
	}

	token, err := m.tokens.Issue(ctx, account.Identity())
	if err != nil {
		return nil, "", NewDependencyFailure(err, "unable to issue session token", map[string]any{
			"account_id": account.ID.String(),
		})
	}

	return account, token, nil
}

// GetAccount loads an account by id, including soft-deleted ones
func (m *Manager) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return m.store.FindByID(ctx, id)
}

// UpdateAccount merges the non-empty fields of in into the active account.
// The merge is computed in memory and persisted with a single save.
func (m *Manager) UpdateAccount(ctx context.Context, id uuid.UUID, in UpdateAccountInput) (*Account, error) {
	in = in.Normalize()
	if err := in.Validate(m.phoneRegion); err != nil {
		return nil, err
	}

	current, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.IsDeleted() {
		return nil, errWithMeta(ErrAlreadyDeleted, map[string]any{"id": id.String()})
	}

	updated := current.Clone()
	changed := in.merge(updated, m.phoneRegion)

	if in.Password != "" {
		hash, err := m.hash(ctx, in.Password)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = hash
		changed = append(changed, "password")
	}

	if len(changed) == 0 {
		return current, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	saved, err := m.store.Save(ctx, updated)
	if err != nil {
		return nil, err
	}

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountUpdated,
		Actor:     actorFrom(ctx),
		AccountID: saved.ID.String(),
		Metadata: map[string]any{
			"fields": changed,
		},
	})

	return saved, nil
}

// SoftDeleteAccount stamps deletedAt on an active account and revokes its
// sessions. Deleting an already deleted account returns ErrAlreadyDeleted.
func (m *Manager) SoftDeleteAccount(ctx context.Context, id uuid.UUID, opts ...TransitionOption) (*Account, error) {
	account, err := m.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if account.IsDeleted() {
		return nil, errWithMeta(ErrAlreadyDeleted, map[string]any{"id": id.String()})
	}

	opts = append(opts, WithAfterTransitionHook(m.revokeSessions))

	return m.stateMachine.Transition(ctx, actorFrom(ctx), account, AccountStatusDeleted, opts...)
}

// ListActiveAccounts returns every account that has not been soft-deleted
func (m *Manager) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	return m.store.ListActive(ctx)
}

func (m *Manager) revokeSessions(ctx context.Context, tc TransitionContext) error {
	if err := m.tokens.RevokeAccount(ctx, tc.Account.ID); err != nil {
		m.logger.Warn("unable to revoke sessions of deleted account",
			"account_id", tc.Account.ID.String(),
			"error", err,
		)
	}
	return nil
}

func (m *Manager) hash(ctx context.Context, plaintext string) (string, error) {
	hash, err := hashWithContext(ctx, m.hasher, plaintext)
	if err == nil {
		return hash, nil
	}

	if ctx.Err() != nil {
		return "", err
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryValidation {
		return "", err
	}

	return "", NewDependencyFailure(err, "unable to hash password")
}

func (m *Manager) fallbackHash() string {
	m.dummyHashOnce.Do(func() {
		h, err := m.hasher.Hash(uuid.NewString())
		if err != nil {
			m.logger.Warn("unable to build fallback password hash", "error", err)
		}
		m.dummyHash = h
	})
	return m.dummyHash
}

func (m *Manager) loginFailed(ctx context.Context, accountID, reason string) error {
	m.logger.Info("authentication failed", "account_id", accountID, "reason", reason)

	m.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{Type: "anonymous"},
		AccountID: accountID,
		Metadata: map[string]any{
			"reason": reason,
		},
	})

	return ErrInvalidCredentials.Clone()
}

func (m *Manager) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	if err := m.activity.Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "event", string(event.EventType), "error", err)
	}
}
