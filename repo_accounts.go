package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const pgUniqueViolation = "23505"

// AccountsRepository is the bun backed AccountStore. It works with any bun
// dialect; SQLite and PostgreSQL are wired by the service binary.
type AccountsRepository struct {
	db             *bun.DB
	reserveDeleted bool
	now            func() time.Time
	logger         Logger
}

var _ AccountStore = (*AccountsRepository)(nil)

// AccountsOption configures an AccountsRepository
type AccountsOption func(*AccountsRepository)

// WithReserveDeletedIdentifiers controls whether soft-deleted accounts keep
// their username and email reserved. Defaults to true.
func WithReserveDeletedIdentifiers(reserve bool) AccountsOption {
	return func(r *AccountsRepository) {
		r.reserveDeleted = reserve
	}
}

// WithAccountsClock overrides the clock used for audit timestamps
func WithAccountsClock(now func() time.Time) AccountsOption {
	return func(r *AccountsRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAccountsLogger sets the logger
func WithAccountsLogger(logger Logger) AccountsOption {
	return func(r *AccountsRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewAccountsRepository returns a repository over db
func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) *AccountsRepository {
	repo := &AccountsRepository{
		db:             db,
		reserveDeleted: true,
		now:            time.Now,
		logger:         defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	return repo
}

// ReservesDeletedIdentifiers reports the uniqueness policy in effect
func (r *AccountsRepository) ReservesDeletedIdentifiers() bool {
	return r.reserveDeleted
}

// EnsureSchema creates the accounts table and its unique indexes. With the
// reserve policy off the indexes only cover active rows. Existing indexes
// are left as they are.
func (r *AccountsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().
		Model((*Account)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return NewDependencyFailure(err, "unable to create accounts table")
	}

	for _, column := range []string{"username", "email"} {
		q := r.db.NewCreateIndex().
			Model((*Account)(nil)).
			Index(fmt.Sprintf("accounts_%s_key", column)).
			Column(column).
			Unique().
			IfNotExists()

		if !r.reserveDeleted {
			q = q.Where("deleted_at IS NULL")
		}

		if _, err := q.Exec(ctx); err != nil {
			return NewDependencyFailure(err, "unable to create accounts index", map[string]any{
				"column": column,
			})
		}
	}

	return nil
}

// Insert stores a new account and returns the stored copy. The identifier
// is assigned here when the record does not carry one; the argument is
// left untouched.
func (r *AccountsRepository) Insert(ctx context.Context, record *Account) (*Account, error) {
	if record == nil {
		return nil, goerrors.New("account record must not be nil", goerrors.CategoryInternal)
	}

	stored := record.Clone()
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := r.checkUniqueTx(ctx, tx, stored); err != nil {
			return err
		}

		now := r.timestamp()
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = now
		stored.UpdatedAt = now
		stored.DeletedAt = nil

		if _, err := tx.NewInsert().Model(stored).Exec(ctx); err != nil {
			return r.mapWriteError(err, stored)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return stored, nil
}

// FindByID loads an account including soft-deleted ones
func (r *AccountsRepository) FindByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.findOneTx(ctx, r.db, map[string]any{"id": id.String()}, byColumn("id", id))
}

// FindByUsername loads an account including soft-deleted ones. When the
// username was released and taken again the active account wins.
func (r *AccountsRepository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return r.findOneTx(ctx, r.db, map[string]any{"username": username}, byColumn("username", username), activeFirst())
}

// FindByEmail loads an account including soft-deleted ones, active first
func (r *AccountsRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findOneTx(ctx, r.db, map[string]any{"email": email}, byColumn("email", email), activeFirst())
}

// ListActive returns every account without a deletion timestamp
func (r *AccountsRepository) ListActive(ctx context.Context) ([]*Account, error) {
	records := make([]*Account, 0)
	err := r.db.NewSelect().
		Model(&records).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, NewDependencyFailure(err, "unable to list accounts")
	}
	return records, nil
}

// Save persists an already loaded record. It refuses to clear a stored
// deletion timestamp.
func (r *AccountsRepository) Save(ctx context.Context, record *Account) (*Account, error) {
	if record == nil {
		return nil, goerrors.New("account record must not be nil", goerrors.CategoryInternal)
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := r.findOneTx(ctx, tx, map[string]any{"id": record.ID.String()}, byColumn("id", record.ID))
		if err != nil {
			return err
		}

		if current.DeletedAt != nil && record.DeletedAt == nil {
			return errWithMeta(ErrAlreadyDeleted, map[string]any{"id": record.ID.String()})
		}

		if err := r.checkUniqueTx(ctx, tx, record); err != nil {
			return err
		}

		record.CreatedAt = current.CreatedAt
		record.UpdatedAt = r.timestamp()

		res, err := tx.NewUpdate().
			Model(record).
			WherePK().
			WhereAllWithDeleted().
			ExcludeColumn("id", "created_at").
			Exec(ctx)
		if err != nil {
			return r.mapWriteError(err, record)
		}

		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errWithMeta(ErrAccountNotFound, map[string]any{"id": record.ID.String()})
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *AccountsRepository) findOneTx(ctx context.Context, tx bun.IDB, meta map[string]any, criteria ...repository.SelectCriteria) (*Account, error) {
	record := &Account{}
	q := tx.NewSelect().Model(record).WhereAllWithDeleted()
	for _, c := range criteria {
		q.Apply(c)
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, errWithMeta(ErrAccountNotFound, meta)
		}
		return nil, NewDependencyFailure(err, "unable to load account", meta)
	}

	return record, nil
}

// checkUniqueTx looks for another account holding the record's username or
// email. Soft-deleted rows count when the reserve policy is on.
func (r *AccountsRepository) checkUniqueTx(ctx context.Context, tx bun.IDB, record *Account) error {
	existing := make([]*Account, 0, 1)
	q := tx.NewSelect().
		Model(&existing).
		Column("id", "username", "email").
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.username = ?", record.Username).
				WhereOr("?TableAlias.email = ?", record.Email)
		})

	if record.ID != uuid.Nil {
		q = q.Where("?TableAlias.id != ?", record.ID)
	}

	if r.reserveDeleted {
		q = q.WhereAllWithDeleted()
	}

	if err := q.Limit(1).Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return NewDependencyFailure(err, "unable to check account uniqueness")
	}

	if len(existing) == 0 {
		return nil
	}

	field := "email"
	if existing[0].Username == record.Username {
		field = "username"
	}

	return errWithMeta(ErrDuplicateKey, map[string]any{
		"field": field,
	})
}

func (r *AccountsRepository) mapWriteError(err error, record *Account) error {
	if isUniqueViolation(err) {
		field := "username"
		if strings.Contains(strings.ToLower(err.Error()), "email") {
			field = "email"
		}
		return goerrors.Wrap(err, goerrors.CategoryConflict, ErrDuplicateKey.Message).
			WithTextCode(ErrDuplicateKey.TextCode).
			WithCode(ErrDuplicateKey.Code).
			WithMetadata(map[string]any{"field": field})
	}

	return NewDependencyFailure(err, "unable to write account", map[string]any{
		"id": record.ID.String(),
	})
}

func (r *AccountsRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

func byColumn(column string, value any) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where(fmt.Sprintf("?TableAlias.%s = ?", column), value)
	}
}

// activeFirst orders a lookup so the live row precedes soft-deleted ones
// holding the same identifier.
func activeFirst() repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.OrderExpr("?TableAlias.deleted_at IS NULL DESC").
			OrderExpr("?TableAlias.created_at DESC")
	}
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == pgUniqueViolation
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
