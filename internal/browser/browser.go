// Package browser drives headless Chrome for the portal engine. Every filing
// gets its own session; sessions are never reused across filings.
package browser

import (
	"context"
	"time"

	"statfiler/internal/selectors"
)

// Isolation controls how much state a session shares with other sessions.
type Isolation string

const (
	// IsolationProcess launches a dedicated Chrome process per session.
	IsolationProcess Isolation = "process"
	// IsolationContext shares one Chrome process and gives each session a
	// fresh incognito browser context.
	IsolationContext Isolation = "context"
)

// Config holds browser configuration.
type Config struct {
	Bin            string    `yaml:"bin"`
	DebuggerURL    string    `yaml:"debugger_url"`
	Launch         []string  `yaml:"launch"`
	Headless       bool      `yaml:"headless"`
	Isolation      Isolation `yaml:"isolation"`
	ViewportWidth  int       `yaml:"viewport_width"`
	ViewportHeight int       `yaml:"viewport_height"`
	// ScreenshotTimeout bounds a single capture.
	ScreenshotTimeout string `yaml:"screenshot_timeout"`
	// ActionTimeout bounds a single element action. rod waits for an
	// element to become enabled and interactable before clicking or typing.
	ActionTimeout string `yaml:"action_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		Isolation:         IsolationProcess,
		ViewportWidth:     1366,
		ViewportHeight:    1024,
		ScreenshotTimeout: "15s",
		ActionTimeout:     "10s",
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1366
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1024
	}
	return c.ViewportHeight
}

// GetScreenshotTimeout returns the capture timeout.
func (c Config) GetScreenshotTimeout() time.Duration {
	d, err := time.ParseDuration(c.ScreenshotTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// GetActionTimeout returns the per-action timeout.
func (c Config) GetActionTimeout() time.Duration {
	d, err := time.ParseDuration(c.ActionTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Driver opens isolated sessions.
type Driver interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one browser tab owned by exactly one task.
type Session interface {
	ID() string
	// Navigate loads url and waits for the load event, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Locate looks for loc for at most wait. An element that does not
	// appear within wait is reported as NotFound, not as an error; errors
	// are reserved for failures unrelated to element presence.
	Locate(ctx context.Context, loc selectors.Locator, wait time.Duration) (LocateResult, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Element is a located DOM element.
type Element interface {
	// Fill replaces the element's current value with value.
	Fill(ctx context.Context, value string) error
	// Choose selects the <option> whose value attribute equals value.
	Choose(ctx context.Context, value string) error
	Click(ctx context.Context) error
	// Value returns the live value property of a form control.
	Value(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
}

// LocateResult is Found(element) or NotFound.
type LocateResult struct {
	element Element
}

// Found wraps a located element.
func Found(el Element) LocateResult {
	return LocateResult{element: el}
}

// NotFound is the result for a locator that matched nothing.
func NotFound() LocateResult {
	return LocateResult{}
}

// Element returns the element and whether the locator matched.
func (r LocateResult) Element() (Element, bool) {
	return r.element, r.element != nil
}

// IsFound reports whether the locator matched.
func (r LocateResult) IsFound() bool {
	return r.element != nil
}
