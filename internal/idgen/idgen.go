// Package idgen generates the random, unguessable identifiers the queue
// engine hands out: per-dispatch auth tokens and per-server job-key
// prefixes.
package idgen

import (
	"crypto/subtle"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// AuthToken returns a fresh 128-bit-minimum random token suitable for the
// Job.AuthToken field (section 4.6: "random, unguessable, 128-bit
// minimum").
func AuthToken() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("idgen: generate auth token: %w", err)
	}
	return id, nil
}

// ServerPrefix returns a short random prefix identifying this server
// instance for use in job keys (section 6.2).
func ServerPrefix() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("idgen: generate server prefix: %w", err)
	}
	return id[:8], nil
}

// Equal compares two tokens in constant time, so a PUT/RETURN/CONFIRM
// carrying a guessed auth token cannot be distinguished from a wrong one
// by timing.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
