package service

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// labelPolicy strips every tag; names and remarks are plain text.
var labelPolicy = sync.OnceValue(func() *bluemonday.Policy {
	policy := bluemonday.StrictPolicy()
	policy.AddSpaceWhenStrippingTag(true)
	return policy
})

// sanitizeLabel removes markup from operator-supplied names and panel remarks
// and collapses the whitespace left behind.
func sanitizeLabel(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	stripped := html.UnescapeString(labelPolicy().Sanitize(trimmed))
	return strings.Join(strings.Fields(stripped), " ")
}
