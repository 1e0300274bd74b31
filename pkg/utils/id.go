package utils

import "github.com/google/uuid"

// GenerateID generates a new UUID v4
func GenerateID() string {
	return uuid.New().String()
}

// IDGenerator lets callers inject deterministic ids.
type IDGenerator func() string
