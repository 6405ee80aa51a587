package utils

import "github.com/google/uuid"

// GenerateUUID returns a random UUID v4 string. Used for job and streaming
// session identifiers.
func GenerateUUID() string {
	return uuid.NewString()
}
