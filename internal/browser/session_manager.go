package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"statfiler/internal/selectors"
)

// RodDriver opens sessions on Chrome through the DevTools protocol.
type RodDriver struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	shared   *rod.Browser
	launcher *launcher.Launcher
}

// NewRodDriver creates a driver. No browser is started until Open.
func NewRodDriver(cfg Config, logger *zap.Logger) *RodDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodDriver{cfg: cfg, logger: logger}
}

// Open returns a fresh session according to the configured isolation mode.
func (d *RodDriver) Open(ctx context.Context) (Session, error) {
	if d.cfg.Isolation == IsolationContext || d.cfg.DebuggerURL != "" {
		return d.openInContext(ctx)
	}
	return d.openInProcess(ctx)
}

// openInProcess launches a dedicated Chrome that dies with the session.
func (d *RodDriver) openInProcess(ctx context.Context) (Session, error) {
	l := d.newLauncher()
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	release := func() error {
		err := b.Close()
		l.Kill()
		l.Cleanup()
		return err
	}
	return d.newSession(b, release)
}

// openInContext creates an incognito context on the shared browser.
func (d *RodDriver) openInContext(ctx context.Context) (Session, error) {
	b, err := d.ensureShared(ctx)
	if err != nil {
		return nil, err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	// Closing an incognito browser disposes its context, not the process.
	return d.newSession(incognito, incognito.Close)
}

func (d *RodDriver) newSession(b *rod.Browser, release func() error) (Session, error) {
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = release()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.logger.Warn("failed to set viewport", zap.Error(err))
	}

	s := &rodSession{
		id:        uuid.NewString(),
		page:      page,
		release:   release,
		shotTTL:   d.cfg.GetScreenshotTimeout(),
		actionTTL: d.cfg.GetActionTimeout(),
	}
	d.logger.Debug("browser session opened", zap.String("session_id", s.id), zap.String("target_id", string(page.TargetID)))
	return s, nil
}

func (d *RodDriver) ensureShared(ctx context.Context) (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shared != nil {
		if _, err := d.shared.Version(); err == nil {
			return d.shared, nil
		}
		d.logger.Warn("stale browser connection detected, reconnecting")
		_ = d.shared.Close()
		d.shared = nil
	}

	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		l := d.newLauncher()
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		d.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	d.shared = b
	return b, nil
}

func (d *RodDriver) newLauncher() *launcher.Launcher {
	l := launcher.New().Headless(d.cfg.Headless)
	if d.cfg.Bin != "" {
		l = l.Bin(d.cfg.Bin)
	}
	for _, rawFlag := range d.cfg.Launch {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// Shutdown closes the shared browser, if one was started.
func (d *RodDriver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.shared != nil {
		err = d.shared.Close()
		d.shared = nil
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher.Cleanup()
		d.launcher = nil
	}
	return err
}

type rodSession struct {
	id        string
	page      *rod.Page
	release   func() error
	shotTTL   time.Duration
	actionTTL time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) ID() string { return s.id }

func (s *rodSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := s.page.Context(tctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) Locate(ctx context.Context, loc selectors.Locator, wait time.Duration) (LocateResult, error) {
	tctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	p := s.page.Context(tctx)
	var (
		el  *rod.Element
		err error
	)
	switch loc.Strategy {
	case selectors.StrategyXPath:
		el, err = p.ElementX(loc.Query)
	default:
		el, err = p.Element(loc.Query)
	}
	if err == nil {
		return Found(&rodElement{el: el, ttl: s.actionTTL}), nil
	}

	var notFound *rod.ElementNotFoundError
	switch {
	case errors.As(err, &notFound):
		return NotFound(), nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// Only the locator's own wait window ran out; the task is still live.
		return NotFound(), nil
	}
	return LocateResult{}, fmt.Errorf("locate %s: %w", loc, err)
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	tctx, cancel := context.WithTimeout(ctx, s.shotTTL)
	defer cancel()
	return s.page.Context(tctx).Screenshot(true, nil)
}

func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		pageErr := s.page.Close()
		relErr := s.release()
		s.closeErr = errors.Join(pageErr, relErr)
	})
	return s.closeErr
}

type rodElement struct {
	el  *rod.Element
	ttl time.Duration
}

// bound gives one action its own deadline. rod's Click and Input poll until
// the element is enabled, which never happens on a disabled button.
func (e *rodElement) bound(ctx context.Context) (*rod.Element, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, e.ttl)
	return e.el.Context(tctx), cancel
}

func (e *rodElement) Fill(ctx context.Context, value string) error {
	el, cancel := e.bound(ctx)
	defer cancel()
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select existing text: %w", err)
	}
	return el.Input(value)
}

func (e *rodElement) Choose(ctx context.Context, value string) error {
	el, cancel := e.bound(ctx)
	defer cancel()
	sel := "option[value=" + strconv.Quote(value) + "]"
	return el.Select([]string{sel}, true, rod.SelectorTypeCSSSector)
}

func (e *rodElement) Click(ctx context.Context) error {
	el, cancel := e.bound(ctx)
	defer cancel()
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Value(ctx context.Context) (string, error) {
	el, cancel := e.bound(ctx)
	defer cancel()
	v, err := el.Property("value")
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	el, cancel := e.bound(ctx)
	defer cancel()
	return el.Text()
}
