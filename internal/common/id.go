package common

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewJobID generates a unique scrape job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// ContentHash returns the hex-encoded SHA-256 of content. Documents are
// content-addressed, so this doubles as the content reference handed to
// the indexing pipeline.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
