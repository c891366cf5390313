package idhash

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// NewOutcomeID returns a random uuid for an outcome record together with its
// short reference.
func NewOutcomeID() (id, shortRef string) {
	u := uuid.New()
	return u.String(), base58.Encode(u[:])
}

// ShortRef encodes the 16 uuid bytes of id in base58 (Bitcoin alphabet),
// giving a 21-22 character reference safe for URLs and chat.
func ShortRef(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("parse outcome id: %w", err)
	}
	return base58.Encode(u[:]), nil
}

// ParseShortRef decodes a short reference back into the canonical uuid string.
func ParseShortRef(ref string) (string, error) {
	raw, err := base58.Decode(ref)
	if err != nil {
		return "", fmt.Errorf("decode short ref: %w", err)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		return "", fmt.Errorf("short ref is not a uuid: %w", err)
	}
	return u.String(), nil
}
