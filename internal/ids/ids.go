// Package ids mints the request identifiers carried in logs and error bodies.
package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable ULID.
func New() string {
	return ulid.Make().String()
}
