// Package ids mints the 128-bit hex session and message identifiers used
// throughout the wire protocol, using github.com/google/uuid the way
// go-hyperforge's in-memory adapters do (e.g. uuid.New().String() in
// pkg/compute/vm/adapters/memory) — the teacher itself has no need for
// random identifiers, since BFD sessions are keyed by discriminator.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh 128-bit hex identifier (no dashes, matching the
// client's uuid4().hex convention), suitable for a session id or a
// message id.
func New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
