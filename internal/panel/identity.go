package panel

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ClientIdentity is the generated id plus the human-readable label (the
// panel's "email" field) of a client.
type ClientIdentity struct {
	ID     string
	Label  string
	Prefix string
}

// LabelPrefix is the stable part of every label issued to userID.
func LabelPrefix(userID int64) string {
	return fmt.Sprintf("u%d_", userID)
}

// NewIdentity draws a fresh UUID and a label with a random suffix.
func NewIdentity(userID int64) ClientIdentity {
	prefix := LabelPrefix(userID)
	return ClientIdentity{
		ID:     uuid.NewString(),
		Label:  prefix + RandomSuffix(),
		Prefix: prefix,
	}
}

// WithSuffix returns a copy whose label carries suffix instead.
func (c ClientIdentity) WithSuffix(suffix string) ClientIdentity {
	c.Label = c.Prefix + suffix
	return c
}

// RandomSuffix returns 8 lowercase hex characters.
func RandomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
