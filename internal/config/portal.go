package config

import (
	"time"

	"statfiler/internal/portal"
)

// PortalConfig configures the portal execution engine.
type PortalConfig struct {
	EntryURL            string `yaml:"entry_url"`
	PageLoadTimeout     string `yaml:"page_load_timeout"`
	FieldTimeout        string `yaml:"field_timeout"`
	ConfirmationTimeout string `yaml:"confirmation_timeout"`
	SubmitAttempts      int    `yaml:"submit_attempts"`
	SubmitBackoffStep   string `yaml:"submit_backoff_step"`
}

// GetPageLoadTimeout returns the page load timeout as a duration.
func (p PortalConfig) GetPageLoadTimeout() time.Duration {
	return parseDuration(p.PageLoadTimeout, 30*time.Second)
}

// GetFieldTimeout returns the per-field locate timeout as a duration.
func (p PortalConfig) GetFieldTimeout() time.Duration {
	return parseDuration(p.FieldTimeout, 10*time.Second)
}

// GetConfirmationTimeout returns the confirmation wait as a duration.
func (p PortalConfig) GetConfirmationTimeout() time.Duration {
	return parseDuration(p.ConfirmationTimeout, 90*time.Second)
}

// GetSubmitBackoffStep returns the linear backoff step as a duration.
func (p PortalConfig) GetSubmitBackoffStep() time.Duration {
	return parseDuration(p.SubmitBackoffStep, 2*time.Second)
}

// Engine returns the engine configuration for entryURL.
func (p PortalConfig) Engine(entryURL string) portal.Config {
	return portal.Config{
		EntryURL:            entryURL,
		PageLoadTimeout:     p.GetPageLoadTimeout(),
		FieldTimeout:        p.GetFieldTimeout(),
		ConfirmationTimeout: p.GetConfirmationTimeout(),
		SubmitAttempts:      p.SubmitAttempts,
		SubmitBackoffStep:   p.GetSubmitBackoffStep(),
	}
}

// SelectorsConfig locates the selector map.
type SelectorsConfig struct {
	Path string `yaml:"path"`
	// Watch reloads the map for later runs when the file changes.
	Watch bool `yaml:"watch"`
}
