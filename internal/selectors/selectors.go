// Package selectors maps logical form fields to portal locators. Maps are
// versioned YAML documents maintained separately from the automation code so
// a portal redesign can be answered with a new map instead of a release.
package selectors

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Logical field names the portal engine asks for.
const (
	FieldEntityName             = "entity_name"
	FieldPrincipalAddress       = "principal_address"
	FieldManagementType         = "management_type"
	FieldProfessionalFlag       = "professional_flag"
	FieldRegisteredAgentName    = "registered_agent_name"
	FieldRegisteredAgentAddress = "registered_agent_address"
	FieldOrganizerName          = "organizer_name"
	FieldSubmit                 = "submit"
	FieldConfirmationNumber     = "confirmation_number"
)

// RequiredFields must be present in every map.
var RequiredFields = []string{
	FieldEntityName,
	FieldPrincipalAddress,
	FieldManagementType,
	FieldRegisteredAgentName,
	FieldRegisteredAgentAddress,
	FieldOrganizerName,
	FieldSubmit,
	FieldConfirmationNumber,
}

// Kind says how the engine interacts with a field.
type Kind string

const (
	KindText   Kind = "text"
	KindSelect Kind = "select"
	KindClick  Kind = "click"
	KindRead   Kind = "read"
)

// Strategy is the query language of a locator.
type Strategy string

const (
	StrategyCSS   Strategy = "css"
	StrategyXPath Strategy = "xpath"
)

// Locator is a single element query. It is written in maps as
// "css=#entityName" or "xpath=//input[@name='x']"; a bare value is CSS.
type Locator struct {
	Strategy Strategy
	Query    string
}

// ParseLocator parses the map notation.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, errors.New("empty locator")
	}
	if prefix, rest, ok := strings.Cut(raw, "="); ok {
		switch Strategy(strings.ToLower(prefix)) {
		case StrategyCSS:
			return Locator{Strategy: StrategyCSS, Query: strings.TrimSpace(rest)}, nil
		case StrategyXPath:
			return Locator{Strategy: StrategyXPath, Query: strings.TrimSpace(rest)}, nil
		}
	}
	return Locator{Strategy: StrategyCSS, Query: raw}, nil
}

func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Query
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Query == "" }

// UnmarshalYAML accepts the string notation.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseLocator(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML writes the string notation.
func (l Locator) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// Entry holds the locators for one logical field.
type Entry struct {
	Primary  Locator  `yaml:"primary"`
	Fallback *Locator `yaml:"fallback,omitempty"`
	Kind     Kind     `yaml:"kind,omitempty"`
	// Options translates logical values (MEMBER_MANAGED) to the portal's
	// <option value> for select fields. Unlisted values pass through.
	Options map[string]string `yaml:"options,omitempty"`
}

// OptionValue returns the portal option value for a logical value.
func (e Entry) OptionValue(v string) string {
	if mapped, ok := e.Options[v]; ok {
		return mapped
	}
	return v
}

// Candidates returns the primary locator followed by the fallback, if any.
func (e Entry) Candidates() []Locator {
	if e.Fallback == nil || e.Fallback.IsZero() {
		return []Locator{e.Primary}
	}
	return []Locator{e.Primary, *e.Fallback}
}

// Map is one version of the selector table. A *Map is never modified after
// Parse returns it.
type Map struct {
	Version string           `yaml:"version"`
	Portal  string           `yaml:"portal,omitempty"`
	Fields  map[string]Entry `yaml:"fields"`
}

// UnknownFieldError is returned by Resolve for names absent from the map.
type UnknownFieldError struct {
	Field   string
	Version string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("selector map %s has no field %q", e.Version, e.Field)
}

// Resolve returns the locators for a logical field.
func (m *Map) Resolve(field string) (Entry, error) {
	entry, ok := m.Fields[field]
	if !ok {
		return Entry{}, &UnknownFieldError{Field: field, Version: m.Version}
	}
	return entry, nil
}

// Has reports whether the map defines field.
func (m *Map) Has(field string) bool {
	_, ok := m.Fields[field]
	return ok
}

// Validate checks version, required fields and locator syntax.
func (m *Map) Validate() error {
	var problems []string
	if strings.TrimSpace(m.Version) == "" {
		problems = append(problems, "version is required")
	}
	for _, f := range RequiredFields {
		if _, ok := m.Fields[f]; !ok {
			problems = append(problems, fmt.Sprintf("missing required field %q", f))
		}
	}
	names := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := m.Fields[name]
		if e.Primary.IsZero() {
			problems = append(problems, fmt.Sprintf("field %q has no primary locator", name))
		}
		switch e.Kind {
		case KindText, KindSelect, KindClick, KindRead:
		default:
			problems = append(problems, fmt.Sprintf("field %q has unknown kind %q", name, e.Kind))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid selector map: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Parse decodes and validates a map. Missing kinds default by field:
// submit is a click, the confirmation number is read, everything else text.
func Parse(data []byte) (*Map, error) {
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse selector map: %w", err)
	}
	for name, e := range m.Fields {
		if e.Kind == "" {
			e.Kind = defaultKind(name)
			m.Fields[name] = e
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and parses a map file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selector map: %w", err)
	}
	return Parse(data)
}

func defaultKind(field string) Kind {
	switch field {
	case FieldSubmit, FieldProfessionalFlag:
		return KindClick
	case FieldConfirmationNumber:
		return KindRead
	case FieldManagementType:
		return KindSelect
	}
	return KindText
}
