package inmemdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/autosave"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/services/realtime"
)

// DocumentTable stores one draft kind in memory, one row per owner.
// Documents are kept as their encoded payload, so callers never share memory with the table.
type DocumentTable[T any] struct {
	db       *DB
	kind     draft.Kind[T]
	notifier realtime.Notifier
	logger   core.Logger

	mutex   sync.RWMutex
	rows    map[string]*documentRow // by id
	byOwner map[string]string       // owner id -> row id
}

var _ draft.Store[struct{}] = (*DocumentTable[struct{}])(nil) // interface compliance check

type documentRow struct {
	id, ownerID          string
	payload              []byte
	createdAt, updatedAt time.Time
}

// NewDocumentTable returns an empty table. Rows may only reference users of db.
func NewDocumentTable[T any](db *DB, kind draft.Kind[T], notifier realtime.Notifier, logger core.Logger) *DocumentTable[T] {
	if logger == nil {
		logger = core.NopLogger
	}
	return &DocumentTable[T]{
		db:       db,
		kind:     kind,
		notifier: notifier,
		logger:   logger,
		rows:     make(map[string]*documentRow),
		byOwner:  make(map[string]string),
	}
}

func (t *DocumentTable[T]) unmarshal(r *documentRow) (autosave.Row[T], error) {
	doc, err := t.kind.Decode(r.payload)
	if err != nil {
		return autosave.Row[T]{}, err
	}
	return autosave.Row[T]{
		ID:        r.id,
		OwnerID:   r.ownerID,
		Document:  doc,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}, nil
}

func (t *DocumentTable[T]) notify(ctx context.Context, op realtime.Op, rowID, ownerID string, row interface{}, at time.Time) {
	if t.notifier == nil {
		return
	}
	ch, err := realtime.NewChange(t.kind.Table, op, rowID, ownerID, row, at)
	if err == nil {
		err = t.notifier.Notify(ctx, ch)
	}
	if err != nil {
		t.logger.Warn("notifying change", err, map[string]interface{}{"table": t.kind.Table, "row_id": rowID})
	}
}

func (t *DocumentTable[T]) FindOwnerRow(ctx context.Context, ownerID string) (*autosave.Row[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	id, ok := t.byOwner[ownerID]
	if !ok {
		return nil, nil
	}
	row, err := t.unmarshal(t.rows[id])
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (t *DocumentTable[T]) InsertRow(ctx context.Context, ownerID string, doc T, at time.Time) (autosave.Row[T], error) {
	if err := ctx.Err(); err != nil {
		return autosave.Row[T]{}, err
	}
	if !t.db.HasUser(ownerID) {
		return autosave.Row[T]{}, errors.Errorf("%s: owner %s does not exist", t.kind.Table, ownerID)
	}
	payload, err := t.kind.Encode(doc)
	if err != nil {
		return autosave.Row[T]{}, err
	}

	t.mutex.Lock()
	if _, ok := t.byOwner[ownerID]; ok {
		t.mutex.Unlock()
		return autosave.Row[T]{}, autosave.ErrDuplicateOwner
	}
	r := &documentRow{
		id:        uuid.NewString(),
		ownerID:   ownerID,
		payload:   payload,
		createdAt: at.UTC(),
		updatedAt: at.UTC(),
	}
	t.rows[r.id] = r
	t.byOwner[ownerID] = r.id
	row, err := t.unmarshal(r)
	t.mutex.Unlock()
	if err != nil {
		return autosave.Row[T]{}, err
	}

	t.notify(ctx, realtime.OpInsert, row.ID, ownerID, row, at)
	return row, nil
}

func (t *DocumentTable[T]) UpdateRow(ctx context.Context, rowID string, doc T, at time.Time) (autosave.Row[T], error) {
	if err := ctx.Err(); err != nil {
		return autosave.Row[T]{}, err
	}
	payload, err := t.kind.Encode(doc)
	if err != nil {
		return autosave.Row[T]{}, err
	}

	t.mutex.Lock()
	r, ok := t.rows[rowID]
	if !ok {
		t.mutex.Unlock()
		return autosave.Row[T]{}, autosave.ErrRowNotFound
	}
	r.payload = payload
	r.updatedAt = at.UTC()
	row, err := t.unmarshal(r)
	t.mutex.Unlock()
	if err != nil {
		return autosave.Row[T]{}, err
	}

	t.notify(ctx, realtime.OpUpdate, row.ID, row.OwnerID, row, at)
	return row, nil
}

// DeleteOwnerRow deletes the owner's row. It returns autosave.ErrRowNotFound when there is none.
func (t *DocumentTable[T]) DeleteOwnerRow(ctx context.Context, ownerID string) error {
	t.mutex.Lock()
	id, ok := t.byOwner[ownerID]
	if !ok {
		t.mutex.Unlock()
		return autosave.ErrRowNotFound
	}
	delete(t.byOwner, ownerID)
	delete(t.rows, id)
	t.mutex.Unlock()

	t.notify(ctx, realtime.OpDelete, id, ownerID, nil, time.Now())
	return nil
}

// ListRows returns the most recently updated rows first. limit <= 0 means no limit.
func (t *DocumentTable[T]) ListRows(ctx context.Context, limit int) ([]autosave.Row[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	rows := make([]autosave.Row[T], 0, len(t.rows))
	for _, r := range t.rows {
		row, err := t.unmarshal(r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}
