package events

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// idSeparator joins the id inputs before hashing. The unit separator cannot
// appear in aggregate ids, catalog types, or uuid-style correlation ids, so
// distinct input tuples never collapse to the same joined string.
const idSeparator = "\x1f"

// DeterministicID derives the physical event id from the logical action.
// Same inputs always produce the same id; a different discriminator always
// produces a different id. Handlers use the discriminator to namespace by
// attempt number, terminal tuple, or poll due time so retries of one causal
// trigger collide on append instead of duplicating events.
func DeterministicID(aggregateID string, eventType EventType, correlationID, causationID *string, discriminator string) (string, error) {
	if strings.TrimSpace(aggregateID) == "" {
		return "", ErrEmptyAggregateID
	}
	if strings.TrimSpace(string(eventType)) == "" {
		return "", ErrInvalidEventType
	}

	parts := []string{
		aggregateID,
		string(eventType),
		deref(correlationID),
		deref(causationID),
		discriminator,
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, idSeparator)))

	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
