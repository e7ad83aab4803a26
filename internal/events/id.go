package events

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// NewID returns a random event ID.
func NewID() EventID {
	return EventID(uuid.NewString())
}

// DeriveID returns a stable event ID for an event delivered from an external
// source, so redelivery of the same record maps to the same stored event.
// The ID is the first 16 bytes of the BLAKE3 hash of "source|ref".
func DeriveID(source, ref string) EventID {
	sum := blake3.Sum256([]byte(source + "|" + ref))
	return EventID(hex.EncodeToString(sum[:16]))
}
