package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateID returns a random 32-character hex identifier for download
// records.
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
