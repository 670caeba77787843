package browsertest

import (
	"statfiler/internal/selectors"
)

// SelectorMapYAML describes the form built by NewFormPortal.
const SelectorMapYAML = `
version: "test-1"
portal: llc-articles
fields:
  entity_name:
    primary: "css=#corp_name"
    fallback: "xpath=//input[@name='corp_name']"
  principal_address:
    primary: "css=#princ_addr1"
  management_type:
    primary: "css=#mgmt_type"
    options:
      MEMBER_MANAGED: MM
      MANAGER_MANAGED: MGR
  professional_flag:
    primary: "css=#professional"
  registered_agent_name:
    primary: "css=#ra_name"
  registered_agent_address:
    primary: "css=#ra_addr1"
  organizer_name:
    primary: "css=#auth_name"
  submit:
    primary: "css=input[type=submit]"
    fallback: "css=button.submit"
  confirmation_number:
    primary: "css=#tracking_number"
`

// Locators used by NewFormPortal.
const (
	EntityName         = "css=#corp_name"
	EntityNameFallback = "xpath=//input[@name='corp_name']"
	PrincipalAddress   = "css=#princ_addr1"
	ManagementType     = "css=#mgmt_type"
	ProfessionalFlag   = "css=#professional"
	AgentName          = "css=#ra_name"
	AgentAddress       = "css=#ra_addr1"
	OrganizerName      = "css=#auth_name"
	Submit             = "css=input[type=submit]"
	SubmitFallback     = "css=button.submit"
	Confirmation       = "css=#tracking_number"
)

// SelectorMap parses SelectorMapYAML.
func SelectorMap() *selectors.Map {
	m, err := selectors.Parse([]byte(SelectorMapYAML))
	if err != nil {
		panic(err)
	}
	return m
}

// NewFormPortal builds the articles-of-organization form. Clicking submit
// reveals the confirmation element carrying tracking (padded with
// whitespace, as the real portal renders it).
func NewFormPortal(tracking string) *Portal {
	p := NewPortal()
	for _, loc := range []string{EntityName, PrincipalAddress, ManagementType, ProfessionalFlag, AgentName, AgentAddress, OrganizerName} {
		p.Add(loc, NewElement(""))
	}
	confirm := p.Add(Confirmation, Hidden("\n  "+tracking+"  \n"))
	submit := p.Add(Submit, NewElement("Submit"))
	submit.OnClick = confirm.Show
	return p
}
