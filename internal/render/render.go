package render

import (
	"regexp"
	"strings"

	"github.com/acme/whatsapp-campaign/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes {{field}} placeholders in template with the recipient's
// values. Unknown identifiers are removed so no placeholder ever reaches the
// wire. The result is trimmed. Render never fails; malformed templates simply
// degrade to empty substitutions.
func Render(template string, recipient domain.Recipient) string {
	fields := recipient.Fields()
	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return ""
		}
		return fields[groups[1]]
	})
	return strings.TrimSpace(rendered)
}
