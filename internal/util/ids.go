package util

import (
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const requestIDPrefix = "req_"

var reNodeID = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// NewRequestID returns a fresh, globally unique request id.
func NewRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		// crypto/rand failed; fall back to the non-secure alphabet generator
		id = gonanoid.MustGenerate("0123456789abcdefghijklmnopqrstuvwxyz", 21)
	}
	return requestIDPrefix + id
}

// IsNodeID reports whether s has the shape of a graph node id (slug).
func IsNodeID(s string) bool {
	if len(s) == 0 || len(s) > 200 {
		return false
	}
	return reNodeID.MatchString(s)
}
