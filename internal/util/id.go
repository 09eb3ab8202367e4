package util

import "github.com/google/uuid"

// NewID returns a random UUID string. Used for message, conversation and
// upload identifiers.
func NewID() string {
	return uuid.NewString()
}
