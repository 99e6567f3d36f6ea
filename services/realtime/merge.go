package realtime

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoPayload is returned when an insert or update change does not carry its row.
var ErrNoPayload = errors.New("change has no payload")

// Merge applies one change to rows, matching rows by key against Change.RowID.
// Inserts and updates replace the matching row in place or append it; deletes remove it.
// rows is never modified.
func Merge[T any](rows []T, ch Change, key func(T) string) ([]T, error) {
	idx := -1
	for i, row := range rows {
		if key(row) == ch.RowID {
			idx = i
			break
		}
	}

	switch ch.Op {
	case OpDelete:
		if idx < 0 {
			return rows, nil
		}
		out := make([]T, 0, len(rows)-1)
		out = append(out, rows[:idx]...)
		return append(out, rows[idx+1:]...), nil
	case OpInsert, OpUpdate:
		if len(ch.Payload) == 0 {
			return rows, ErrNoPayload
		}
		var row T
		if err := json.Unmarshal(ch.Payload, &row); err != nil {
			return rows, errors.Wrap(err, "decoding change payload")
		}
		out := make([]T, len(rows), len(rows)+1)
		copy(out, rows)
		if idx < 0 {
			return append(out, row), nil
		}
		out[idx] = row
		return out, nil
	}
	return rows, errors.Errorf("unknown change op %q", ch.Op)
}

// LiveList keeps a list of rows current by merging the changes of one table.
type LiveList[T any] struct {
	mu       sync.RWMutex
	rows     []T
	key      func(T) string
	onChange func(Change, []T, error)
	cancel   func()
	touched  map[string]struct{} // row IDs merged before Seed; nil once seeded
}

// NewLiveList subscribes to table on hub, starting from initial.
// onChange, if not nil, is called after every merge with the new rows or the merge error.
func NewLiveList[T any](
	hub *Hub,
	table string,
	filter Filter,
	initial []T,
	key func(T) string,
	onChange func(Change, []T, error),
) *LiveList[T] {
	l := &LiveList[T]{
		rows:     append([]T(nil), initial...),
		key:      key,
		onChange: onChange,
		touched:  make(map[string]struct{}),
	}
	l.cancel = hub.Subscribe(table, filter, l.apply)
	return l
}

func (l *LiveList[T]) apply(ch Change) {
	l.mu.Lock()
	rows, err := Merge(l.rows, ch, l.key)
	if err == nil {
		l.rows = rows
	}
	if l.touched != nil {
		l.touched[ch.RowID] = struct{}{}
	}
	snapshot := append([]T(nil), l.rows...)
	l.mu.Unlock()

	if l.onChange != nil {
		l.onChange(ch, snapshot, err)
	}
}

// Seed adds rows loaded after subscribing, so that no change falls between the load and the
// subscription. A row already touched by a merged change keeps its merged state.
// It returns the current rows.
func (l *LiveList[T]) Seed(rows []T) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, row := range rows {
		if _, ok := l.touched[l.key(row)]; ok {
			continue
		}
		l.rows = append(l.rows, row)
	}
	l.touched = nil
	return append([]T(nil), l.rows...)
}

// Rows returns a copy of the current rows.
func (l *LiveList[T]) Rows() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]T(nil), l.rows...)
}

func (l *LiveList[T]) Close() {
	l.cancel()
}
