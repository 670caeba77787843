// Package calibrate turns a raw Filing Request into a Calibrated Intent, or
// rejects it with a StatutoryViolation. Calibration is pure: no I/O, no
// logging. Corrections come back as notes the caller is required to record.
package calibrate

import (
	"regexp"
	"strings"

	"statfiler/internal/filing"
)

const (
	OrdinarySuffix     = "LLC"
	ProfessionalSuffix = "PLLC"
)

// poBoxPattern matches post-office-box and private-mailbox designations. The
// surrounding groups stand in for word boundaries, which RE2 cannot place
// after a trailing period.
var poBoxPattern = regexp.MustCompile(`(?i)(^|[^a-z])(p\.?\s*o\.?\s*box|p\.?\s*o\.?\s*b|post\s+office\s+box|p\.?\s*m\.?\s*b|private\s+mail\s*box)([^a-z]|$)`)

var (
	ordinarySuffixPattern     = regexp.MustCompile(`(?i)[\s,]+(l\.?\s?l\.?\s?c\.?|limited\s+liability\s+company)$`)
	professionalSuffixPattern = regexp.MustCompile(`(?i)[\s,]+(p\.?\s?l\.?\s?l\.?\s?c\.?|professional\s+limited\s+liability\s+company)$`)
)

// AddressRuleExplanation is the message carried by address-rule violations.
const AddressRuleExplanation = "principal address must be a physical street address; P.O. boxes, PMBs and other mail-drop addresses are not accepted"

// RegisteredAgent is the fixed registered-agent identity filed with every
// entity.
type RegisteredAgent struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
}

// Intent is the validated, statute-normalized form of a Filing Request.
type Intent struct {
	FilingID         string
	EntityName       string
	PrincipalAddress string
	ManagementType   filing.ManagementType
	RegisteredAgent  RegisteredAgent
	OrganizerName    string
	Professional     bool
}

// Note records a correction applied during calibration.
type Note struct {
	Field    string
	Original string
	Applied  string
	Reason   string
}

func (n Note) String() string {
	return n.Field + ": " + n.Reason + " (" + quoteOrEmpty(n.Original) + " -> " + n.Applied + ")"
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return "<empty>"
	}
	return `"` + s + `"`
}

// Result is one of Accepted, Corrected or Rejected.
type Result interface {
	isResult()
}

// Accepted means the request was filed as given, apart from normalization.
type Accepted struct {
	Intent Intent
}

// Corrected means a safe default replaced an invalid value. Notes is never
// empty.
type Corrected struct {
	Intent Intent
	Notes  []Note
}

// Rejected means the request cannot legally be filed.
type Rejected struct {
	Violation *filing.StatutoryViolation
}

func (Accepted) isResult()  {}
func (Corrected) isResult() {}
func (Rejected) isResult()  {}

// Calibrator applies the statutory rules. The zero value files with an empty
// registered agent; use New.
type Calibrator struct {
	agent RegisteredAgent
}

// New returns a Calibrator that stamps every intent with agent.
func New(agent RegisteredAgent) *Calibrator {
	return &Calibrator{agent: agent}
}

// Calibrate validates and normalizes req.
func (c *Calibrator) Calibrate(req filing.Request) Result {
	address := collapse(req.PrincipalAddress)
	if address == "" {
		return Rejected{Violation: &filing.StatutoryViolation{
			Rule:    filing.RuleAddress,
			Field:   "principal_address",
			Message: "principal address is required",
		}}
	}
	if IsPOBox(address) {
		return Rejected{Violation: &filing.StatutoryViolation{
			Rule:    filing.RuleAddress,
			Field:   "principal_address",
			Message: AddressRuleExplanation,
		}}
	}

	name, violation := CanonicalName(req.EntityName, req.Professional)
	if violation != nil {
		return Rejected{Violation: violation}
	}

	intent := Intent{
		FilingID:         req.ID,
		EntityName:       name,
		PrincipalAddress: address,
		RegisteredAgent:  c.agent,
		OrganizerName:    collapse(req.OrganizerName),
		Professional:     req.Professional,
	}

	mt, ok := filing.ParseManagementType(req.ManagementType)
	if !ok {
		intent.ManagementType = filing.MemberManaged
		return Corrected{Intent: intent, Notes: []Note{{
			Field:    "management_type",
			Original: req.ManagementType,
			Applied:  string(filing.MemberManaged),
			Reason:   "unrecognized management type replaced with statutory default",
		}}}
	}
	intent.ManagementType = mt
	return Accepted{Intent: intent}
}

// IsPOBox reports whether address names a post-office box or private mailbox.
func IsPOBox(address string) bool {
	return poBoxPattern.MatchString(collapse(address))
}

// CanonicalName applies the suffix rule. A professional entity ends in PLLC,
// with any ordinary suffix stripped first; an ordinary entity gets LLC unless
// a recognized variant is already present.
func CanonicalName(raw string, professional bool) (string, *filing.StatutoryViolation) {
	name := collapse(raw)
	if name == "" {
		return "", &filing.StatutoryViolation{
			Rule:    filing.RuleName,
			Field:   "entity_name",
			Message: "entity name is required",
		}
	}
	// Pad so a bare suffix ("LLC") still matches the separator-anchored
	// patterns and is caught as a name with no distinguishing part.
	padded := " " + name

	if professional {
		if professionalSuffixPattern.MatchString(padded) {
			return requireBase(name, professionalSuffixPattern)
		}
		base := strings.TrimRight(ordinarySuffixPattern.ReplaceAllString(padded, ""), " ,")
		base = strings.TrimSpace(base)
		if base == "" {
			return "", missingBase()
		}
		return base + " " + ProfessionalSuffix, nil
	}

	if professionalSuffixPattern.MatchString(padded) {
		return "", &filing.StatutoryViolation{
			Rule:    filing.RuleSuffix,
			Field:   "entity_name",
			Message: "professional suffix (PLLC) may only be used by a professional entity",
		}
	}
	if ordinarySuffixPattern.MatchString(padded) {
		return requireBase(name, ordinarySuffixPattern)
	}
	return name + " " + OrdinarySuffix, nil
}

func requireBase(name string, suffix *regexp.Regexp) (string, *filing.StatutoryViolation) {
	if strings.TrimSpace(suffix.ReplaceAllString(" "+name, "")) == "" {
		return "", missingBase()
	}
	return name, nil
}

func missingBase() *filing.StatutoryViolation {
	return &filing.StatutoryViolation{
		Rule:    filing.RuleName,
		Field:   "entity_name",
		Message: "entity name must contain more than the entity suffix",
	}
}

func collapse(s string) string {
	// Fields splits on any Unicode space, so a non-breaking space cannot
	// hide a box designation from the address rule.
	return strings.Join(strings.Fields(s), " ")
}
