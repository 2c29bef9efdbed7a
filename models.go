package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle state derived from DeletedAt
type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusDeleted AccountStatus = "deleted"
)

// Account is the account model
type Account struct {
	bun.BaseModel   `bun:"table:accounts,alias:acc" json:"-"`
	ID              uuid.UUID       `bun:"id,pk,type:uuid" json:"id"`
	FirstName       string          `bun:"first_name,notnull" json:"firstName"`
	LastName        string          `bun:"last_name,notnull" json:"lastName"`
	PhoneNumber01   string          `bun:"phone_number_01" json:"phoneNumber01,omitempty"`
	PhoneNumber02   string          `bun:"phone_number_02" json:"phoneNumber02,omitempty"`
	Email           string          `bun:"email,notnull" json:"email"`
	Username        string          `bun:"username,notnull" json:"userName"`
	ProfileImage    string          `bun:"profile_image" json:"profileImage,omitempty"`
	PasswordHash    string          `bun:"password_hash,notnull" json:"-"`
	PermissionLevel PermissionLevel `bun:"permission_level,notnull" json:"permissionLevel"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updatedAt"`
	DeletedAt       *time.Time      `bun:"deleted_at,soft_delete,nullzero" json:"deletedAt"`
}

// Status reports whether the account is active or soft-deleted
func (a *Account) Status() AccountStatus {
	if a == nil || a.DeletedAt == nil {
		return AccountStatusActive
	}
	return AccountStatusDeleted
}

// IsDeleted reports whether the account carries a deletion timestamp
func (a *Account) IsDeleted() bool {
	return a.Status() == AccountStatusDeleted
}

// Clone returns a copy that shares no pointers with the receiver
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Identity returns the token identity for the account
func (a *Account) Identity() Identity {
	return accountIdentity{account: a}
}

type accountIdentity struct {
	account *Account
}

func (i accountIdentity) ID() string {
	return i.account.ID.String()
}

func (i accountIdentity) Username() string {
	return i.account.Username
}

func (i accountIdentity) Email() string {
	return i.account.Email
}

func (i accountIdentity) PermissionLevel() string {
	return string(i.account.PermissionLevel)
}
