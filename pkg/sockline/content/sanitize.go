// Package content handles user supplied rich text carried in event payloads.
package content

import (
	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

// newPolicy allows inline formatting and links only.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "i", "em", "strong", "a", "u")
	p.AllowAttrs("href", "target", "rel").Globally()
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	return p
}

// SanitizeHTML strips every element and attribute that is not inline
// formatting or a link. Script and style bodies are removed entirely.
func SanitizeHTML(dirty string) string {
	return policy.Sanitize(dirty)
}
