package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"

	accounts "github.com/goliatone/go-accounts"
)

//go:embed config.yml
var embeddedConfig []byte

// EnvPrefix is prepended to every environment override, e.g.
// ACCOUNTS_AUTH_SIGNINGKEY or ACCOUNTS_PERSISTENCE_DRIVER.
const EnvPrefix = "ACCOUNTS"

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		Address         string        `mapstructure:"address"`
		Prefix          string        `mapstructure:"prefix"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		BodyLimit       int           `mapstructure:"bodyLimit"`
	} `mapstructure:"server"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
	Auth struct {
		SigningKey      string        `mapstructure:"signingKey"`
		Issuer          string        `mapstructure:"issuer"`
		Audience        []string      `mapstructure:"audience"`
		TokenExpiration time.Duration `mapstructure:"tokenExpiration"`
		PasswordCost    int           `mapstructure:"passwordCost"`
	} `mapstructure:"auth"`
	Accounts struct {
		ReserveDeletedIdentifiers bool   `mapstructure:"reserveDeletedIdentifiers"`
		DefaultPermissionLevel    string `mapstructure:"defaultPermissionLevel"`
		DefaultPhoneRegion        string `mapstructure:"defaultPhoneRegion"`
	} `mapstructure:"accounts"`
	Persistence struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
		Debug  bool   `mapstructure:"debug"`
		Mongo  struct {
			URI        string        `mapstructure:"uri"`
			Database   string        `mapstructure:"database"`
			Collection string        `mapstructure:"collection"`
			Timeout    time.Duration `mapstructure:"timeout"`
		} `mapstructure:"mongo"`
	} `mapstructure:"persistence"`
	Sessions struct {
		Backend         string        `mapstructure:"backend"`
		Namespace       string        `mapstructure:"namespace"`
		CleanupInterval time.Duration `mapstructure:"cleanupInterval"`
		Redis           struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"sessions"`
	Images struct {
		BaseDir      string `mapstructure:"baseDir"`
		MaxDimension int    `mapstructure:"maxDimension"`
		Quality      int    `mapstructure:"quality"`
		MaxBytes     int64  `mapstructure:"maxBytes"`
	} `mapstructure:"images"`
}

var _ accounts.Config = Config{}

// Option customizes how the configuration is loaded
type Option func(*loader)

type loader struct {
	paths []string
	name  string
}

// WithConfigPaths sets the directories searched for a config file
func WithConfigPaths(paths ...string) Option {
	return func(l *loader) {
		l.paths = paths
	}
}

// WithConfigName sets the config file name without extension
func WithConfigName(name string) Option {
	return func(l *loader) {
		if name != "" {
			l.name = name
		}
	}
}

// Load reads the embedded defaults, merges a config file when one is found
// and applies environment overrides.
func Load(opts ...Option) (Config, error) {
	l := &loader{
		paths: []string{".", "config", "/etc/accounts"},
		name:  "config",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	var cfg Config
	v := viper.New()
	v.SetConfigType("yml")

	if err := v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read embedded config")
	}

	v.SetConfigName(l.name)
	for _, p := range l.paths {
		v.AddConfigPath(p)
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !goerrors.As(err, &notFound) {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read config file")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate will run validation rules
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Mode, validation.Required, validation.In(ModeDevelopment, ModeProduction)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}

	errs := validation.Errors{
		"server.address": validation.Validate(c.Server.Address, validation.Required),
		"persistence.driver": validation.Validate(c.Persistence.Driver,
			validation.Required, validation.In("sqlite", "postgres", "mongo")),
		"sessions.backend": validation.Validate(c.Sessions.Backend,
			validation.In("memory", "redis", "none")),
		"logging.format": validation.Validate(c.Logging.Format,
			validation.In("text", "json")),
		"accounts.defaultPermissionLevel": validation.Validate(c.Accounts.DefaultPermissionLevel,
			validation.By(func(value any) error {
				raw, _ := value.(string)
				if raw == "" {
					return nil
				}
				_, err := accounts.ParsePermissionLevel(raw)
				return err
			})),
	}

	if c.Mode == ModeProduction {
		errs["auth.signingKey"] = validation.Validate(c.Auth.SigningKey,
			validation.Required, validation.Length(32, 0))
	}

	if err := errs.Filter(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration")
	}

	return nil
}

// IsProduction reports whether the service runs in production mode
func (c Config) IsProduction() bool {
	return c.Mode == ModeProduction
}

func (c Config) GetSigningKey() string {
	return c.Auth.SigningKey
}

func (c Config) GetTokenExpiration() time.Duration {
	return c.Auth.TokenExpiration
}

func (c Config) GetIssuer() string {
	return c.Auth.Issuer
}

func (c Config) GetAudience() []string {
	return c.Auth.Audience
}

func (c Config) GetPasswordCost() int {
	return c.Auth.PasswordCost
}

func (c Config) GetReserveDeletedIdentifiers() bool {
	return c.Accounts.ReserveDeletedIdentifiers
}

func (c Config) GetDefaultPermissionLevel() string {
	return c.Accounts.DefaultPermissionLevel
}

func (c Config) GetDefaultPhoneRegion() string {
	return c.Accounts.DefaultPhoneRegion
}

func (c Config) String() string {
	return fmt.Sprintf("mode=%s driver=%s sessions=%s address=%s",
		c.Mode, c.Persistence.Driver, c.Sessions.Backend, c.Server.Address)
}
