// Package browsertest provides a scripted in-memory browser for tests of
// code built on browser.Driver.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"statfiler/internal/browser"
	"statfiler/internal/selectors"
)

// Portal is the page every session of a Driver sees. Elements are keyed by
// locator notation ("css=#corp_name").
type Portal struct {
	mu            sync.Mutex
	elements      map[string]*Element
	locateErrs    map[string]error
	navigateErr   error
	screenshotErr error
	navigations   []string
	locates       []string
	shots         int
}

// NewPortal returns an empty page.
func NewPortal() *Portal {
	return &Portal{elements: map[string]*Element{}, locateErrs: map[string]error{}}
}

func key(raw string) string {
	l, err := selectors.ParseLocator(raw)
	if err != nil {
		panic(err)
	}
	return l.String()
}

// Add places el on the page under locator and returns it.
func (p *Portal) Add(locator string, el *Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[key(locator)] = el
	return el
}

// Remove takes the element at locator off the page.
func (p *Portal) Remove(locator string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, key(locator))
}

// Element returns the element registered at locator.
func (p *Portal) Element(locator string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[key(locator)]
}

// FailLocate makes lookups of locator fail with err.
func (p *Portal) FailLocate(locator string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locateErrs[key(locator)] = err
}

// FailNavigate makes every navigation fail with err.
func (p *Portal) FailNavigate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigateErr = err
}

// FailScreenshots makes every capture fail with err.
func (p *Portal) FailScreenshots(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshotErr = err
}

// Locates returns the locators looked up so far, in order.
func (p *Portal) Locates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.locates...)
}

// LocateCount returns how often locator was looked up.
func (p *Portal) LocateCount(locator string) int {
	k := key(locator)
	n := 0
	for _, l := range p.Locates() {
		if l == k {
			n++
		}
	}
	return n
}

// Navigations returns visited URLs.
func (p *Portal) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Element is a scripted DOM element.
type Element struct {
	mu sync.Mutex

	value  string
	text   string
	hidden bool
	clicks int

	// ClickErrs are returned by successive clicks before clicks succeed.
	ClickErrs []error
	// StuckClicks is the number of clicks that hang until their context
	// ends, like a button that never becomes enabled.
	StuckClicks int
	// OnClick runs after each successful click.
	OnClick func()
	// Rewrite, if set, transforms filled values the way a misbehaving page
	// script might.
	Rewrite func(string) string
}

// NewElement returns a visible element with the given text content.
func NewElement(text string) *Element {
	return &Element{text: text}
}

// Hidden returns an element that is not found until Show is called.
func Hidden(text string) *Element {
	return &Element{text: text, hidden: true}
}

// Show makes a hidden element findable.
func (e *Element) Show() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hidden = false
}

// CurrentValue returns the element's value.
func (e *Element) CurrentValue() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Clicks returns the number of successful clicks.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func (e *Element) visible() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.hidden
}

func (e *Element) Fill(ctx context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Rewrite != nil {
		value = e.Rewrite(value)
	}
	e.value = value
	return nil
}

func (e *Element) Choose(ctx context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	e.mu.Lock()
	if e.StuckClicks > 0 {
		e.StuckClicks--
		e.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	if len(e.ClickErrs) > 0 {
		err := e.ClickErrs[0]
		e.ClickErrs = e.ClickErrs[1:]
		e.mu.Unlock()
		return err
	}
	e.clicks++
	onClick := e.OnClick
	e.mu.Unlock()
	if onClick != nil {
		onClick()
	}
	return nil
}

func (e *Element) Value(ctx context.Context) (string, error) {
	return e.CurrentValue(), nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text, nil
}

// Driver opens sessions on a Portal and counts them.
type Driver struct {
	Portal  *Portal
	OpenErr error

	mu     sync.Mutex
	opened int
	closed int
}

// NewDriver returns a driver over p.
func NewDriver(p *Portal) *Driver {
	return &Driver{Portal: p}
}

func (d *Driver) Open(ctx context.Context) (browser.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opened++
	return &session{id: fmt.Sprintf("fake-%d", d.opened), driver: d}, nil
}

// Opened returns the number of sessions opened.
func (d *Driver) Opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Closed returns the number of sessions closed.
func (d *Driver) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type session struct {
	id     string
	driver *Driver
	once   sync.Once
}

func (s *session) ID() string { return s.id }

func (s *session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p := s.driver.Portal
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	return p.navigateErr
}

func (s *session) Locate(ctx context.Context, loc selectors.Locator, wait time.Duration) (browser.LocateResult, error) {
	if err := ctx.Err(); err != nil {
		return browser.LocateResult{}, err
	}
	p := s.driver.Portal
	p.mu.Lock()
	k := loc.String()
	p.locates = append(p.locates, k)
	err := p.locateErrs[k]
	el := p.elements[k]
	p.mu.Unlock()

	if err != nil {
		return browser.LocateResult{}, err
	}
	if el == nil || !el.visible() {
		return browser.NotFound(), nil
	}
	return browser.Found(el), nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	p := s.driver.Portal
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	p.shots++
	return []byte(fmt.Sprintf("\x89PNG\r\n\x1a\nshot-%d", p.shots)), nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.driver.mu.Lock()
		s.driver.closed++
		s.driver.mu.Unlock()
	})
	return nil
}

// ErrDetached simulates a failure unrelated to element presence.
var ErrDetached = errors.New("target closed: page detached")
