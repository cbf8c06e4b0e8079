// Package tempid allocates client-side placeholder identifiers for rows
// that have not yet been confirmed by the server. The prefix keeps the
// namespace disjoint from server-issued ids, so reconciliation can always
// tell a provisional row from a confirmed one.
package tempid

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix marks an identifier as client-generated. Server ids never start
// with it.
const Prefix = "tmp-"

// New returns a fresh temp id.
func New() string {
	return Prefix + uuid.New().String()
}

// Is reports whether id belongs to the temp-id namespace.
func Is(id string) bool {
	return strings.HasPrefix(id, Prefix)
}
