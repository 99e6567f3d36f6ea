package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/resume"
	"github.com/trezcool/gakuten/core/selfanalysis"
	"github.com/trezcool/gakuten/services/realtime"
	"github.com/trezcool/gakuten/storage/database/sqlxrepos"
)

// watchRow is the document-agnostic part of a draft row, as listed and as carried by change payloads.
type watchRow struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r watchRow) String() string {
	return fmt.Sprintf("%s  owner=%s  updated=%s", r.ID, r.OwnerID, r.UpdatedAt.Format(time.RFC3339))
}

type rowLister func(ctx context.Context, limit int) ([]watchRow, error)

func newRowLister[T any](db *sqlx.DB, kind draft.Kind[T]) rowLister {
	repo := sqlxrepos.NewDocumentRepository(db, kind)
	return func(ctx context.Context, limit int) ([]watchRow, error) {
		rows, err := repo.ListRows(ctx, limit)
		if err != nil {
			return nil, err
		}
		out := make([]watchRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, watchRow{ID: r.ID, OwnerID: r.OwnerID, UpdatedAt: r.UpdatedAt})
		}
		return out, nil
	}
}

func (cli *commandLine) listers() map[string]rowLister {
	return map[string]rowLister{
		resume.Table:       newRowLister(cli.db, resume.Kind),
		selfanalysis.Table: newRowLister(cli.db, selfanalysis.Kind),
	}
}

// watch prints the latest rows of table, then every change merged into them until ctx is done.
func (cli *commandLine) watch(ctx context.Context, table, ownerID string, limit int) error {
	listers := cli.listers()
	list, ok := listers[table]
	if !ok {
		tables := make([]string, 0, len(listers))
		for name := range listers {
			tables = append(tables, name)
		}
		sort.Strings(tables)
		return errors.Errorf("unknown table %q (want one of %s)", table, strings.Join(tables, ", "))
	}

	// subscribe before listing so that no change falls in between; the listing is seeded afterwards
	changes := make(chan string, 64)
	live := realtime.NewLiveList(cli.hub, table, realtime.Filter{OwnerID: ownerID}, nil,
		func(r watchRow) string { return r.ID },
		func(ch realtime.Change, rows []watchRow, err error) {
			line := fmt.Sprintf("%s %s (%d rows)", ch.Op, ch.RowID, len(rows))
			switch {
			case ch.Truncated:
				line += " [payload truncated]"
			case err != nil:
				line += fmt.Sprintf(" [merge error: %v]", err)
			}
			select {
			case changes <- line:
			default:
				cli.logger.Warn("watch: dropping change line", map[string]interface{}{"row_id": ch.RowID})
			}
		})
	defer live.Close()

	listed, err := list(ctx, limit)
	if err != nil {
		return err
	}
	owned := listed[:0]
	for _, r := range listed {
		if ownerID == "" || r.OwnerID == ownerID {
			owned = append(owned, r)
		}
	}
	rows := live.Seed(owned)
	fmt.Fprintf(cli.out, "%s: %d rows\n", table, len(rows))
	for _, r := range rows {
		fmt.Fprintln(cli.out, r)
	}

	if cli.listener != nil {
		listenCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := cli.listener.Run(listenCtx); err != nil {
				cli.logger.Error("watch: listener stopped", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-changes:
			fmt.Fprintln(cli.out, line)
		}
	}
}
