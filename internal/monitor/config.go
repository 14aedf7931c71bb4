package monitor

import (
	"github.com/go-playground/validator/v10"

	"github.com/i474232898/home-env-monitor/internal/settings"
)

// ComponentName is the name announced with the configSaved event.
const ComponentName = "Netatmo"

const redacted = "********"

var validate = validator.New()

// Config is the persisted Netatmo configuration.
type Config struct {
	Enabled      bool   `json:"enabled"`
	ClientID     string `json:"id"`
	ClientSecret string `json:"secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Debug        bool   `json:"debug"`
}

// Complete reports whether all credentials are present.
func (c Config) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.Username != "" && c.Password != ""
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	if c.ClientSecret != "" {
		c.ClientSecret = redacted
	}
	if c.Password != "" {
		c.Password = redacted
	}
	return c
}

func (c Config) sameCredentials(o Config) bool {
	return c.ClientID == o.ClientID && c.ClientSecret == o.ClientSecret &&
		c.Username == o.Username && c.Password == o.Password
}

// Patch is a partial Config update. Nil fields are left untouched.
type Patch struct {
	Enabled      *bool   `json:"enabled"`
	ClientID     *string `json:"id" validate:"omitempty,max=256"`
	ClientSecret *string `json:"secret" validate:"omitempty,max=256"`
	Username     *string `json:"username" validate:"omitempty,max=256"`
	Password     *string `json:"password" validate:"omitempty,max=256"`
	Debug        *bool   `json:"debug"`
}

// Validate checks field constraints.
func (p Patch) Validate() error {
	return validate.Struct(p)
}

// Merge returns c with every non-nil field of p applied. A secret sent back
// in its redacted form keeps the stored value.
func (c Config) Merge(p Patch) Config {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.ClientID != nil {
		c.ClientID = *p.ClientID
	}
	if p.ClientSecret != nil && *p.ClientSecret != redacted {
		c.ClientSecret = *p.ClientSecret
	}
	if p.Username != nil {
		c.Username = *p.Username
	}
	if p.Password != nil && *p.Password != redacted {
		c.Password = *p.Password
	}
	if p.Debug != nil {
		c.Debug = *p.Debug
	}
	return c
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"enabled":  c.Enabled,
		"id":       c.ClientID,
		"secret":   c.ClientSecret,
		"username": c.Username,
		"password": c.Password,
		"debug":    c.Debug,
	}
}

// Settings is the persisted key/value store the controller reads and
// writes.
type Settings interface {
	Get(key string, def any) any
	GetBool(key string, def bool) bool
	GetString(key string, def string) string
	Set(key string, value any) error
}

func loadConfig(s Settings) Config {
	k := func(name string) string { return settings.KeyNetatmoConfig + "." + name }

	return Config{
		Enabled:      s.GetBool(k("enabled"), false),
		ClientID:     s.GetString(k("id"), ""),
		ClientSecret: s.GetString(k("secret"), ""),
		Username:     s.GetString(k("username"), ""),
		Password:     s.GetString(k("password"), ""),
		Debug:        s.GetBool(k("debug"), false),
	}
}
