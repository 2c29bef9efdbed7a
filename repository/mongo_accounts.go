package repository

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	accounts "github.com/goliatone/go-accounts"
)

// accountDocument is the stored shape of an account. The status field
// mirrors deleted_at so partial unique indexes can target active accounts.
type accountDocument struct {
	ID              string     `bson:"_id"`
	FirstName       string     `bson:"first_name"`
	LastName        string     `bson:"last_name"`
	PhoneNumber01   string     `bson:"phone_number_01,omitempty"`
	PhoneNumber02   string     `bson:"phone_number_02,omitempty"`
	Email           string     `bson:"email"`
	Username        string     `bson:"username"`
	ProfileImage    string     `bson:"profile_image,omitempty"`
	PasswordHash    string     `bson:"password_hash"`
	PermissionLevel string     `bson:"permission_level"`
	Status          string     `bson:"status"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
	DeletedAt       *time.Time `bson:"deleted_at,omitempty"`
}

func toDocument(a *accounts.Account) accountDocument {
	return accountDocument{
		ID:              a.ID.String(),
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		PhoneNumber01:   a.PhoneNumber01,
		PhoneNumber02:   a.PhoneNumber02,
		Email:           a.Email,
		Username:        a.Username,
		ProfileImage:    a.ProfileImage,
		PasswordHash:    a.PasswordHash,
		PermissionLevel: string(a.PermissionLevel),
		Status:          string(a.Status()),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		DeletedAt:       a.DeletedAt,
	}
}

func (d accountDocument) toAccount() (*accounts.Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	out := &accounts.Account{
		ID:              id,
		FirstName:       d.FirstName,
		LastName:        d.LastName,
		PhoneNumber01:   d.PhoneNumber01,
		PhoneNumber02:   d.PhoneNumber02,
		Email:           d.Email,
		Username:        d.Username,
		ProfileImage:    d.ProfileImage,
		PasswordHash:    d.PasswordHash,
		PermissionLevel: accounts.PermissionLevel(d.PermissionLevel),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}

	if d.DeletedAt != nil {
		t := d.DeletedAt.UTC()
		out.DeletedAt = &t
	}

	return out, nil
}

// MongoAccounts is an AccountStore backed by a MongoDB collection
type MongoAccounts struct {
	coll           *mongo.Collection
	reserveDeleted bool
	timeout        time.Duration
	now            func() time.Time
	logger         accounts.Logger
}

var _ accounts.AccountStore = (*MongoAccounts)(nil)

// MongoOption configures MongoAccounts
type MongoOption func(*MongoAccounts)

// WithMongoReserveDeleted controls whether soft-deleted accounts keep their
// identifiers reserved. Defaults to true.
func WithMongoReserveDeleted(reserve bool) MongoOption {
	return func(m *MongoAccounts) {
		m.reserveDeleted = reserve
	}
}

// WithMongoTimeout bounds every collection operation
func WithMongoTimeout(timeout time.Duration) MongoOption {
	return func(m *MongoAccounts) {
		m.timeout = timeout
	}
}

// WithMongoClock overrides the clock used for audit timestamps
func WithMongoClock(now func() time.Time) MongoOption {
	return func(m *MongoAccounts) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMongoLogger sets the logger
func WithMongoLogger(logger accounts.Logger) MongoOption {
	return func(m *MongoAccounts) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMongoAccounts returns a store over coll
func NewMongoAccounts(coll *mongo.Collection, opts ...MongoOption) *MongoAccounts {
	m := &MongoAccounts{
		coll:           coll,
		reserveDeleted: true,
		now:            time.Now,
		logger:         accounts.NoopLogger(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// EnsureSchema creates the unique username and email indexes. With the
// reserve policy off they only cover active accounts.
func (m *MongoAccounts) EnsureSchema(ctx context.Context) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	models := make([]mongo.IndexModel, 0, 3)
	for _, field := range []string{"username", "email"} {
		opts := options.Index().
			SetName("accounts_" + field + "_key").
			SetUnique(true)
		if !m.reserveDeleted {
			opts = opts.SetPartialFilterExpression(bson.D{{Key: "status", Value: string(accounts.AccountStatusActive)}})
		}
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: field, Value: 1}},
			Options: opts,
		})
	}

	models = append(models, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("accounts_status_created_at"),
	})

	if _, err := m.coll.Indexes().CreateMany(ctx, models); err != nil {
		return accounts.NewDependencyFailure(err, "unable to create accounts indexes")
	}

	return nil
}

// Insert stores a copy of record, assigning an id when it has none
func (m *MongoAccounts) Insert(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	if record == nil {
		return nil, goerrors.New("account record must not be nil", goerrors.CategoryInternal)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	stored := record.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}

	if err := m.checkUnique(ctx, stored); err != nil {
		return nil, err
	}

	now := m.timestamp()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.DeletedAt = nil

	if _, err := m.coll.InsertOne(ctx, toDocument(stored)); err != nil {
		return nil, m.mapWriteError(err, stored)
	}

	return stored, nil
}

// FindByID loads an account including soft-deleted ones
func (m *MongoAccounts) FindByID(ctx context.Context, id uuid.UUID) (*accounts.Account, error) {
	return m.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, map[string]any{"id": id.String()})
}

// FindByUsername loads an account including soft-deleted ones. An active
// account holding a released username is returned before deleted ones.
func (m *MongoAccounts) FindByUsername(ctx context.Context, username string) (*accounts.Account, error) {
	return m.findOne(ctx, bson.D{{Key: "username", Value: username}}, map[string]any{"username": username}, activeFirst())
}

// FindByEmail loads an account including soft-deleted ones, active first
func (m *MongoAccounts) FindByEmail(ctx context.Context, email string) (*accounts.Account, error) {
	return m.findOne(ctx, bson.D{{Key: "email", Value: email}}, map[string]any{"email": email}, activeFirst())
}

// activeFirst sorts "active" ahead of "deleted", newest first within each
func activeFirst() *options.FindOneOptions {
	return options.FindOne().SetSort(bson.D{
		{Key: "status", Value: 1},
		{Key: "created_at", Value: -1},
	})
}

// ListActive returns active accounts ordered by creation time
func (m *MongoAccounts) ListActive(ctx context.Context) ([]*accounts.Account, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	filter := bson.D{{Key: "status", Value: string(accounts.AccountStatusActive)}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, accounts.NewDependencyFailure(err, "unable to list accounts")
	}

	docs := make([]accountDocument, 0)
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, accounts.NewDependencyFailure(err, "unable to decode accounts")
	}

	out := make([]*accounts.Account, 0, len(docs))
	for _, d := range docs {
		a, err := d.toAccount()
		if err != nil {
			return nil, accounts.NewDependencyFailure(err, "unable to decode account", map[string]any{"id": d.ID})
		}
		out = append(out, a)
	}

	return out, nil
}

// Save replaces a stored account. A stored deletion timestamp cannot be
// cleared and CreatedAt is preserved.
func (m *MongoAccounts) Save(ctx context.Context, record *accounts.Account) (*accounts.Account, error) {
	if record == nil {
		return nil, goerrors.New("account record must not be nil", goerrors.CategoryInternal)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	current, err := m.findOne(ctx, bson.D{{Key: "_id", Value: record.ID.String()}}, map[string]any{"id": record.ID.String()})
	if err != nil {
		return nil, err
	}

	if current.DeletedAt != nil && record.DeletedAt == nil {
		return nil, accounts.ErrAlreadyDeleted.Clone().WithMetadata(map[string]any{"id": record.ID.String()})
	}

	if err := m.checkUnique(ctx, record); err != nil {
		return nil, err
	}

	record.CreatedAt = current.CreatedAt
	record.UpdatedAt = m.timestamp()

	res, err := m.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: record.ID.String()}}, toDocument(record))
	if err != nil {
		return nil, m.mapWriteError(err, record)
	}

	if res.MatchedCount == 0 {
		return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": record.ID.String()})
	}

	return record, nil
}

func (m *MongoAccounts) findOne(ctx context.Context, filter bson.D, meta map[string]any, opts ...*options.FindOneOptions) (*accounts.Account, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var doc accountDocument
	if err := m.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, accounts.ErrAccountNotFound.Clone().WithMetadata(meta)
		}
		return nil, accounts.NewDependencyFailure(err, "unable to load account", meta)
	}

	a, err := doc.toAccount()
	if err != nil {
		return nil, accounts.NewDependencyFailure(err, "unable to decode account", meta)
	}

	return a, nil
}

// checkUnique reports the identifier another account already holds. The
// unique indexes still guard against concurrent writers.
func (m *MongoAccounts) checkUnique(ctx context.Context, record *accounts.Account) error {
	filter := bson.D{
		{Key: "_id", Value: bson.D{{Key: "$ne", Value: record.ID.String()}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "username", Value: record.Username}},
			bson.D{{Key: "email", Value: record.Email}},
		}},
	}
	if !m.reserveDeleted {
		filter = append(filter, bson.E{Key: "status", Value: string(accounts.AccountStatusActive)})
	}

	var existing accountDocument
	err := m.coll.FindOne(ctx, filter).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return accounts.NewDependencyFailure(err, "unable to check account uniqueness")
	}

	field := "email"
	if existing.Username == record.Username {
		field = "username"
	}

	return accounts.ErrDuplicateKey.Clone().WithMetadata(map[string]any{"field": field})
}

func (m *MongoAccounts) mapWriteError(err error, record *accounts.Account) error {
	if mongo.IsDuplicateKeyError(err) {
		m.logger.Debug("duplicate key on write", "id", record.ID.String(), "error", err)
		return goerrors.Wrap(err, goerrors.CategoryConflict, accounts.ErrDuplicateKey.Message).
			WithTextCode(accounts.TextCodeDuplicateKey).
			WithCode(goerrors.CodeConflict)
	}

	return accounts.NewDependencyFailure(err, "unable to write account", map[string]any{
		"id": record.ID.String(),
	})
}

func (m *MongoAccounts) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

// timestamp is truncated to the millisecond precision BSON dates keep
func (m *MongoAccounts) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}
