package invalidation

import (
	"strings"

	"github.com/google/uuid"
)

// IDGenerator produces unique request identifiers.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues identifiers derived from random UUIDs. IDs start
// with an underscore so they are valid XML NCNames for enforcement points
// that log them alongside SAML identifiers.
type UUIDGenerator struct{}

// NewID returns a fresh identifier.
func (UUIDGenerator) NewID() string {
	return "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
