package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/autosave"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/services/realtime"
)

const documentColumns = "id, owner_id, payload, created_at, updated_at"

// DocumentRepository stores one draft kind, one row per owner, with the Document as a JSON payload.
type DocumentRepository[T any] struct {
	exec  core.DBExecutor
	kind  draft.Kind[T]
	table string
	opts  options
}

var _ draft.Store[struct{}] = (*DocumentRepository[struct{}])(nil) // interface compliance check

func NewDocumentRepository[T any](exec core.DBExecutor, kind draft.Kind[T], opts ...Option) *DocumentRepository[T] {
	return &DocumentRepository[T]{
		exec:  exec,
		kind:  kind,
		table: pq.QuoteIdentifier(kind.Table),
		opts:  newOptions(opts),
	}
}

type documentRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Payload   string    `db:"payload"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (repo *DocumentRepository[T]) unmarshal(r documentRow) (autosave.Row[T], error) {
	doc, err := repo.kind.Decode([]byte(r.Payload))
	if err != nil {
		return autosave.Row[T]{}, errors.Wrapf(err, "decoding %s row %s", repo.kind.Table, r.ID)
	}
	return autosave.Row[T]{
		ID:        r.ID,
		OwnerID:   r.OwnerID,
		Document:  doc,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

func (repo *DocumentRepository[T]) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlxrepos."+op, trace.WithAttributes(attribute.String("db.table", repo.kind.Table)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (repo *DocumentRepository[T]) get(ctx context.Context, exec core.DBExecutor, where string, arg interface{}) (*autosave.Row[T], error) {
	var r documentRow
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", documentColumns, repo.table, where)
	if err := sqlx.GetContext(ctx, exec, &r, exec.Rebind(q), arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "selecting %s", repo.kind.Table)
	}
	row, err := repo.unmarshal(r)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (repo *DocumentRepository[T]) FindOwnerRow(ctx context.Context, ownerID string) (row *autosave.Row[T], err error) {
	ctx, span := repo.startSpan(ctx, "FindOwnerRow")
	defer func() { endSpan(span, err) }()

	return repo.get(ctx, repo.exec, "owner_id", ownerID)
}

func (repo *DocumentRepository[T]) InsertRow(ctx context.Context, ownerID string, doc T, at time.Time) (row autosave.Row[T], err error) {
	ctx, span := repo.startSpan(ctx, "InsertRow")
	defer func() { endSpan(span, err) }()

	payload, err := repo.kind.Encode(doc)
	if err != nil {
		return autosave.Row[T]{}, err
	}
	r := documentRow{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Payload:   string(payload),
		CreatedAt: at.UTC(),
		UpdatedAt: at.UTC(),
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?)", repo.table, documentColumns)
	if _, err = repo.exec.ExecContext(ctx, repo.exec.Rebind(q), r.ID, r.OwnerID, r.Payload, r.CreatedAt, r.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return autosave.Row[T]{}, autosave.ErrDuplicateOwner
		}
		return autosave.Row[T]{}, errors.Wrapf(err, "inserting %s", repo.kind.Table)
	}

	if row, err = repo.unmarshal(r); err != nil {
		return autosave.Row[T]{}, err
	}
	repo.opts.notify(ctx, repo.kind.Table, realtime.OpInsert, row.ID, row.OwnerID, row, at)
	return row, nil
}

func (repo *DocumentRepository[T]) UpdateRow(ctx context.Context, rowID string, doc T, at time.Time) (row autosave.Row[T], err error) {
	ctx, span := repo.startSpan(ctx, "UpdateRow")
	defer func() { endSpan(span, err) }()

	payload, err := repo.kind.Encode(doc)
	if err != nil {
		return autosave.Row[T]{}, err
	}
	q := fmt.Sprintf("UPDATE %s SET payload = ?, updated_at = ? WHERE id = ?", repo.table)
	res, err := repo.exec.ExecContext(ctx, repo.exec.Rebind(q), string(payload), at.UTC(), rowID)
	if err != nil {
		return autosave.Row[T]{}, errors.Wrapf(err, "updating %s", repo.kind.Table)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return autosave.Row[T]{}, autosave.ErrRowNotFound
	}

	updated, err := repo.get(ctx, repo.exec, "id", rowID)
	if err != nil {
		return autosave.Row[T]{}, err
	}
	if updated == nil {
		return autosave.Row[T]{}, autosave.ErrRowNotFound
	}
	repo.opts.notify(ctx, repo.kind.Table, realtime.OpUpdate, updated.ID, updated.OwnerID, *updated, at)
	return *updated, nil
}

// DeleteOwnerRow deletes the owner's row. It returns autosave.ErrRowNotFound when there is none.
func (repo *DocumentRepository[T]) DeleteOwnerRow(ctx context.Context, ownerID string) (err error) {
	ctx, span := repo.startSpan(ctx, "DeleteOwnerRow")
	defer func() { endSpan(span, err) }()

	existing, err := repo.get(ctx, repo.exec, "owner_id", ownerID)
	if err != nil {
		return err
	}
	if existing == nil {
		return autosave.ErrRowNotFound
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", repo.table)
	if _, err = repo.exec.ExecContext(ctx, repo.exec.Rebind(q), existing.ID); err != nil {
		return errors.Wrapf(err, "deleting %s", repo.kind.Table)
	}
	repo.opts.notify(ctx, repo.kind.Table, realtime.OpDelete, existing.ID, ownerID, nil, time.Now())
	return nil
}

// ListRows returns the most recently updated rows first. limit <= 0 means no limit.
func (repo *DocumentRepository[T]) ListRows(ctx context.Context, limit int) (rows []autosave.Row[T], err error) {
	ctx, span := repo.startSpan(ctx, "ListRows")
	defer func() { endSpan(span, err) }()

	ord := core.DBOrdering{Field: "updated_at"}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", documentColumns, repo.table, ord)
	var args []interface{}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	var raw []documentRow
	if err = sqlx.SelectContext(ctx, repo.exec, &raw, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrapf(err, "listing %s", repo.kind.Table)
	}
	rows = make([]autosave.Row[T], 0, len(raw))
	for _, r := range raw {
		row, err := repo.unmarshal(r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
