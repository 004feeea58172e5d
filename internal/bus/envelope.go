package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/steward/internal/events"
)

// DefaultSource identifies this system as the event producer.
const DefaultSource = "urn:steward:workflow"

var ErrBadEnvelope = errors.New("malformed event envelope")

// Envelope is the integration event wire format. The id is the deterministic
// event id, so redelivered and republished events are recognizable as the
// same logical event by every subscriber.
type Envelope struct {
	ID              string           `json:"id"`
	Type            events.EventType `json:"type"`
	Source          string           `json:"source"`
	Subject         string           `json:"subject"`
	Time            time.Time        `json:"time"`
	DataContentType string           `json:"datacontenttype"`
	CorrelationID   *string          `json:"correlationId,omitempty"`
	CausationID     *string          `json:"causationId,omitempty"`
	Data            json.RawMessage  `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrBadEnvelope)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrBadEnvelope, e.Type)
	}
	if e.Subject == "" {
		return fmt.Errorf("%w: missing subject", ErrBadEnvelope)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadEnvelope)
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope

	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}

	return e, nil
}

// SubjectFor builds the per-request subject all workflow events use.
func SubjectFor(requestID string) string {
	return "/requests/" + requestID
}
