package content

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// SanitizeBody strips all HTML from a message body and trims surrounding
// whitespace. Chat messages are plain text; anything markup-shaped in a
// draft is attacker- or paste-noise, not content.
func SanitizeBody(input string) string {
	return strings.TrimSpace(policy.Sanitize(input))
}

// SanitizeName strips HTML from a display name coming back from the
// directory before it enters the contact list.
func SanitizeName(input string) string {
	return strings.TrimSpace(policy.Sanitize(input))
}
