package sqlxrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/services/realtime"
)

var tracer = otel.Tracer("github.com/trezcool/gakuten/storage/database/sqlxrepos")

type options struct {
	notifier realtime.Notifier
	logger   core.Logger
}

// Option customises a repository.
type Option func(*options)

// WithNotifier publishes a realtime.Change after every write.
func WithNotifier(n realtime.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithLogger sets the logger used for failures that do not fail the write (e.g. notifications).
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

func newOptions(opts []Option) options {
	o := options{logger: core.NopLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// notify publishes a change. The write already happened, so failures are only logged.
func (o options) notify(ctx context.Context, table string, op realtime.Op, rowID, ownerID string, row interface{}, at time.Time) {
	if o.notifier == nil {
		return
	}
	ch, err := realtime.NewChange(table, op, rowID, ownerID, row, at)
	if err == nil {
		err = o.notifier.Notify(ctx, ch)
	}
	if err != nil {
		o.logger.Warn("notifying change", err, map[string]interface{}{"table": table, "row_id": rowID})
	}
}

// isUniqueViolation reports whether err is a unique constraint violation, for postgres and sqlite.
func isUniqueViolation(err error) bool {
	switch e := errors.Cause(err).(type) {
	case *pq.Error:
		return e.Code == "23505"
	case *sqlite.Error:
		return e.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || e.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func getExec(exec core.DBExecutor, svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return exec
}
