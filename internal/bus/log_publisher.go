package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/geocoder89/steward/internal/events"
)

// LogPublisher prints events instead of delivering them. Useful for local
// runs without redis and as a test double.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher { return &LogPublisher{} }

func (p *LogPublisher) Publish(ctx context.Context, eventType events.EventType, subject, eventID string, data json.RawMessage) error {
	// Optional: simulate transport outage
	if os.Getenv("BUS_FAIL") == "1" {
		return fmt.Errorf("bus down (simulated)")
	}

	log.Printf("bus.publish type=%s subject=%s id=%s data=%s",
		string(eventType), subject, eventID, string(data),
	)
	return nil
}
