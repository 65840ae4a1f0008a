package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
)

// Stream message types.
const (
	TypeConnected = "connected"
	TypeStatus    = "status"
	TypeChange    = "postgres_changes"
)

// Subscription states reported in status messages.
const (
	StatusSubscribed = "SUBSCRIBED"
	StatusTimedOut   = "TIMED_OUT"
)

// ChangeEvent is one row change from the orders feed. It is not persisted and
// cannot be replayed.
type ChangeEvent struct {
	Operation enums.ChangeOperation `json:"operation"`
	New       *models.Order         `json:"new,omitempty"`
	Old       *models.Order         `json:"old,omitempty"`
	// Truncated rows omit items because the notification exceeded the payload cap.
	Truncated bool      `json:"truncated,omitempty"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Row returns the row the event describes: the new row, or the old one for deletes.
func (e ChangeEvent) Row() *models.Order {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

type rawChange struct {
	Operation string        `json:"operation"`
	New       *models.Order `json:"new"`
	Old       *models.Order `json:"old"`
	Truncated bool          `json:"truncated"`
}

// DecodeChangeEvent parses a notification payload produced by the orders
// change trigger.
func DecodeChangeEvent(payload []byte, emittedAt time.Time) (ChangeEvent, error) {
	var raw rawChange
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change payload: %w", err)
	}
	op, err := enums.ParseChangeOperation(raw.Operation)
	if err != nil {
		return ChangeEvent{}, err
	}
	switch op {
	case enums.ChangeOperationInsert, enums.ChangeOperationUpdate:
		if raw.New == nil {
			return ChangeEvent{}, fmt.Errorf("%s change without new row", op)
		}
	case enums.ChangeOperationDelete:
		if raw.Old == nil {
			return ChangeEvent{}, fmt.Errorf("delete change without old row")
		}
	}
	return ChangeEvent{
		Operation: op,
		New:       raw.New,
		Old:       raw.Old,
		Truncated: raw.Truncated,
		EmittedAt: emittedAt.UTC(),
	}, nil
}

// Message is one frame on the admin order stream.
type Message struct {
	Type    string       `json:"type"`
	Message string       `json:"message,omitempty"`
	Status  string       `json:"status,omitempty"`
	Error   string       `json:"error,omitempty"`
	Payload *ChangeEvent `json:"payload,omitempty"`
}
