package autosave

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateOwner is returned by Gateway.InsertRow when a row already exists for the owner.
	ErrDuplicateOwner = errors.New("a row already exists for this owner")
	// ErrRowNotFound is returned by Gateway.UpdateRow when the row does not exist.
	ErrRowNotFound = errors.New("row not found")
)

// Row is the persisted form of a document. There is at most one Row per owner.
type Row[T any] struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Document  T         `json:"document"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Gateway is the remote store documents are persisted to.
type Gateway[T any] interface {
	// FindOwnerRow returns nil and no error when the owner has no row yet.
	FindOwnerRow(ctx context.Context, ownerID string) (*Row[T], error)
	InsertRow(ctx context.Context, ownerID string, doc T, at time.Time) (Row[T], error)
	UpdateRow(ctx context.Context, rowID string, doc T, at time.Time) (Row[T], error)
}

// Upsert creates or replaces the owner's row: read the existing row, then update it or insert a new one.
// When the insert loses a race against another insert for the same owner, the winning row is updated instead.
func Upsert[T any](ctx context.Context, gw Gateway[T], ownerID string, doc T, at time.Time) (Row[T], error) {
	existing, err := gw.FindOwnerRow(ctx, ownerID)
	if err != nil {
		return Row[T]{}, errors.Wrap(err, "finding owner row")
	}
	if existing != nil {
		return updateRow(ctx, gw, existing.ID, doc, at)
	}

	row, err := gw.InsertRow(ctx, ownerID, doc, at)
	if err == nil {
		return row, nil
	}
	if errors.Cause(err) != ErrDuplicateOwner {
		return Row[T]{}, errors.Wrap(err, "inserting row")
	}

	existing, err = gw.FindOwnerRow(ctx, ownerID)
	if err != nil {
		return Row[T]{}, errors.Wrap(err, "finding owner row after conflict")
	}
	if existing == nil {
		return Row[T]{}, errors.Wrap(ErrRowNotFound, "finding owner row after conflict")
	}
	return updateRow(ctx, gw, existing.ID, doc, at)
}

func updateRow[T any](ctx context.Context, gw Gateway[T], rowID string, doc T, at time.Time) (Row[T], error) {
	row, err := gw.UpdateRow(ctx, rowID, doc, at)
	if err != nil {
		return Row[T]{}, errors.Wrap(err, "updating row")
	}
	return row, nil
}
