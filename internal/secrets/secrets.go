// Package secrets fetches payment credentials on demand. A credential is
// scoped to one settlement and scrubbed as soon as it has been used.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned for unknown credential names.
var ErrNotFound = errors.New("secret not found")

// Driver names a provider implementation.
type Driver string

const (
	DriverEnv  Driver = "env"
	DriverFile Driver = "file"
)

// Config selects and configures a provider.
type Config struct {
	Driver Driver `yaml:"driver"`
	// EnvPrefix is prepended to the upper-cased credential name.
	EnvPrefix string `yaml:"env_prefix"`
	// Dir holds one file per credential (mounted secret volume).
	Dir string `yaml:"dir"`
}

// Credential holds a secret value. Its String form never includes the
// secret, so it is safe to pass to loggers by accident.
type Credential struct {
	Name   string
	secret []byte
}

// NewCredential wraps value.
func NewCredential(name string, value []byte) *Credential {
	return &Credential{Name: name, secret: append([]byte(nil), value...)}
}

// Secret returns the secret value. It is empty after Scrub. The returned
// string is a copy that Scrub cannot reach, so callers should use it at
// once and not keep it.
func (c *Credential) Secret() string {
	return string(c.secret)
}

// Scrubbed reports whether Scrub has run.
func (c *Credential) Scrubbed() bool {
	return c.secret == nil
}

// Scrub overwrites the secret bytes and drops them.
func (c *Credential) Scrub() {
	for i := range c.secret {
		c.secret[i] = 0
	}
	c.secret = nil
}

func (c *Credential) String() string {
	return "credential(" + c.Name + ", [REDACTED])"
}

// GoString keeps %#v from printing the secret.
func (c *Credential) GoString() string {
	return c.String()
}

// Provider fetches credentials by name.
type Provider interface {
	Fetch(ctx context.Context, name string) (*Credential, error)
}

// Open builds the configured provider.
func Open(cfg Config) (Provider, error) {
	switch cfg.Driver {
	case DriverEnv, "":
		return EnvProvider{Prefix: cfg.EnvPrefix}, nil
	case DriverFile:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("secrets dir required for file driver")
		}
		return FileProvider{Dir: cfg.Dir}, nil
	default:
		return nil, fmt.Errorf("unknown secrets driver %q", cfg.Driver)
	}
}

// EnvProvider reads PREFIX + upper(name), e.g. STATFILER_SECRET_GATEWAY_API_KEY.
type EnvProvider struct {
	Prefix string
}

func (p EnvProvider) Fetch(ctx context.Context, name string) (*Credential, error) {
	prefix := p.Prefix
	if prefix == "" {
		prefix = "STATFILER_SECRET_"
	}
	key := prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return NewCredential(name, []byte(v)), nil
}

// FileProvider reads Dir/name with surrounding whitespace removed.
type FileProvider struct {
	Dir string
}

func (p FileProvider) Fetch(ctx context.Context, name string) (*Credential, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid secret name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(p.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	trimmed := []byte(strings.TrimSpace(string(data)))
	for i := range data {
		data[i] = 0
	}
	return &Credential{Name: name, secret: trimmed}, nil
}
