package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a row-level event emitted after a write.
// Payload holds the JSON of the row after the write; it is empty for deletes
// and when the row was too large to travel with the notification (Truncated).
type Change struct {
	Table     string          `json:"table"`
	Op        Op              `json:"op"`
	RowID     string          `json:"row_id"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
	At        time.Time       `json:"at"`
}

// NewChange builds a Change carrying the JSON of row.
func NewChange(table string, op Op, rowID, ownerID string, row interface{}, at time.Time) (Change, error) {
	ch := Change{Table: table, Op: op, RowID: rowID, OwnerID: ownerID, At: at.UTC()}
	if op == OpDelete || row == nil {
		return ch, nil
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return Change{}, errors.Wrap(err, "marshalling change payload")
	}
	ch.Payload = payload
	return ch, nil
}

// Notifier delivers changes to subscribers, in process or through the database.
type Notifier interface {
	Notify(ctx context.Context, change Change) error
}

// NotifierFunc allows plain functions to satisfy Notifier.
type NotifierFunc func(ctx context.Context, change Change) error

func (fn NotifierFunc) Notify(ctx context.Context, change Change) error {
	return fn(ctx, change)
}
