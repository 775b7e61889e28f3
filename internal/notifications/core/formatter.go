package core

import "fmt"

// DefaultCompanyName is used when no company name is configured.
const DefaultCompanyName = "America First"

const messageTemplate = "Hello %s, this is %s, your new vehicle protection partner. " +
	"Please give us your feedback on %s by clicking the link below:\n\n%s"

// Formatter renders the feedback request text.
type Formatter struct {
	company string
}

// NewFormatter creates a Formatter signing messages as company.
func NewFormatter(company string) *Formatter {
	if company == "" {
		company = DefaultCompanyName
	}
	return &Formatter{company: company}
}

// Format substitutes the inputs verbatim. It has no side effects.
func (f *Formatter) Format(firstName, salesRepName, link string) string {
	return fmt.Sprintf(messageTemplate, firstName, f.company, salesRepName, link)
}
