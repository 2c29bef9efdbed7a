package accounts

import (
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/nyaruka/phonenumbers"
)

// bcrypt ignores input past 72 bytes
const maxPasswordLength = 72

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// CreateAccountInput holds the fields accepted when creating an account
type CreateAccountInput struct {
	FirstName       string `json:"firstName" form:"firstName"`
	LastName        string `json:"lastName" form:"lastName"`
	PhoneNumber01   string `json:"phoneNumber01" form:"phoneNumber01"`
	PhoneNumber02   string `json:"phoneNumber02" form:"phoneNumber02"`
	Email           string `json:"email" form:"email"`
	Username        string `json:"userName" form:"userName"`
	Password        string `json:"password" form:"password"`
	PermissionLevel string `json:"permissionLevel" form:"permissionLevel"`
	ProfileImage    string `json:"-" form:"-"`
}

// Normalize trims every field and lowercases the email
func (in CreateAccountInput) Normalize() CreateAccountInput {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.PhoneNumber01 = strings.TrimSpace(in.PhoneNumber01)
	in.PhoneNumber02 = strings.TrimSpace(in.PhoneNumber02)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.PermissionLevel = strings.ToLower(strings.TrimSpace(in.PermissionLevel))
	in.ProfileImage = strings.TrimSpace(in.ProfileImage)
	return in
}

// Validate will run validation rules
func (in CreateAccountInput) Validate(phoneRegion string) error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Length(0, 200)),
		validation.Field(&in.LastName, validation.Length(0, 200)),
		validation.Field(&in.PhoneNumber01, validation.By(validPhoneNumber(phoneRegion))),
		validation.Field(&in.PhoneNumber02, validation.By(validPhoneNumber(phoneRegion))),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&in.Username, validation.Required, validation.Length(1, 64), validation.Match(usernamePattern)),
		validation.Field(&in.Password, validation.Required, validation.Length(1, maxPasswordLength)),
		validation.Field(&in.PermissionLevel, validation.By(validPermissionLevel)),
	)
	return NewValidationError(err, "invalid account input")
}

// UpdateAccountInput holds a partial profile update. Empty fields mean no
// change; clearing a field is not supported.
type UpdateAccountInput struct {
	FirstName       string `json:"firstName" form:"firstName"`
	LastName        string `json:"lastName" form:"lastName"`
	PhoneNumber01   string `json:"phoneNumber01" form:"phoneNumber01"`
	PhoneNumber02   string `json:"phoneNumber02" form:"phoneNumber02"`
	Email           string `json:"email" form:"email"`
	Username        string `json:"userName" form:"userName"`
	Password        string `json:"password" form:"password"`
	PermissionLevel string `json:"permissionLevel" form:"permissionLevel"`
	ProfileImage    string `json:"-" form:"-"`
}

// Normalize trims every field and lowercases the email
func (in UpdateAccountInput) Normalize() UpdateAccountInput {
	normalized := CreateAccountInput(in).Normalize()
	return UpdateAccountInput(normalized)
}

// IsEmpty reports whether the update carries no change
func (in UpdateAccountInput) IsEmpty() bool {
	return in == UpdateAccountInput{}
}

// Validate will run validation rules on the fields present
func (in UpdateAccountInput) Validate(phoneRegion string) error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Length(0, 200)),
		validation.Field(&in.LastName, validation.Length(0, 200)),
		validation.Field(&in.PhoneNumber01, validation.By(validPhoneNumber(phoneRegion))),
		validation.Field(&in.PhoneNumber02, validation.By(validPhoneNumber(phoneRegion))),
		validation.Field(&in.Email, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&in.Username, validation.Length(1, 64), validation.Match(usernamePattern)),
		validation.Field(&in.Password, validation.Length(1, maxPasswordLength)),
		validation.Field(&in.PermissionLevel, validation.By(validPermissionLevel)),
	)
	return NewValidationError(err, "invalid account update")
}

// merge copies the non-empty profile fields onto record. The password is
// handled by the caller since it must be hashed first.
func (in UpdateAccountInput) merge(record *Account, phoneRegion string) []string {
	changed := make([]string, 0)
	set := func(field string, dst *string, value string) {
		if value == "" || *dst == value {
			return
		}
		*dst = value
		changed = append(changed, field)
	}

	set("firstName", &record.FirstName, in.FirstName)
	set("lastName", &record.LastName, in.LastName)
	set("phoneNumber01", &record.PhoneNumber01, formatPhoneNumber(in.PhoneNumber01, phoneRegion))
	set("phoneNumber02", &record.PhoneNumber02, formatPhoneNumber(in.PhoneNumber02, phoneRegion))
	set("email", &record.Email, in.Email)
	set("userName", &record.Username, in.Username)
	set("profileImage", &record.ProfileImage, in.ProfileImage)

	if in.PermissionLevel != "" && PermissionLevel(in.PermissionLevel) != record.PermissionLevel {
		record.PermissionLevel = PermissionLevel(in.PermissionLevel)
		changed = append(changed, "permissionLevel")
	}

	return changed
}

// LoginInput holds login credentials
type LoginInput struct {
	Username string `json:"userName" form:"userName"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (in LoginInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required.Error("username or password is missing")),
		validation.Field(&in.Password, validation.Required.Error("username or password is missing")),
	)
	return NewValidationError(err, "invalid login input")
}

func validPermissionLevel(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	if _, err := ParsePermissionLevel(raw); err != nil {
		return fmt.Errorf("must be one of %v", PermissionLevels())
	}
	return nil
}

func validPhoneNumber(region string) validation.RuleFunc {
	return func(value any) error {
		raw, _ := value.(string)
		if raw == "" {
			return nil
		}
		num, err := phonenumbers.Parse(raw, region)
		if err != nil {
			return fmt.Errorf("must be a valid phone number")
		}
		if !phonenumbers.IsValidNumber(num) {
			return fmt.Errorf("must be a valid phone number")
		}
		return nil
	}
}

// formatPhoneNumber returns the E.164 form of a validated number
func formatPhoneNumber(raw, region string) string {
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
