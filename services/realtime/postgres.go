package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/gakuten/core"
)

// maxNotifyPayload is below the 8000 bytes postgres accepts for a NOTIFY payload.
const maxNotifyPayload = 7900

// PGNotifier sends changes through postgres NOTIFY so every process listening on the channel receives them.
type PGNotifier struct {
	exec    sqlx.ExecerContext
	channel string
}

var _ Notifier = (*PGNotifier)(nil)

func NewPGNotifier(exec sqlx.ExecerContext, channel string) *PGNotifier {
	return &PGNotifier{exec: exec, channel: channel}
}

func (n *PGNotifier) Notify(ctx context.Context, ch Change) error {
	payload, err := encodeNotification(ch)
	if err != nil {
		return err
	}
	if _, err = n.exec.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.channel, payload); err != nil {
		return errors.Wrap(err, "notifying change")
	}
	return nil
}

// encodeNotification drops the row payload when the change would not fit in a NOTIFY.
func encodeNotification(ch Change) (string, error) {
	data, err := json.Marshal(ch)
	if err != nil {
		return "", errors.Wrap(err, "marshalling change")
	}
	if len(data) <= maxNotifyPayload {
		return string(data), nil
	}
	ch.Payload = nil
	ch.Truncated = true
	if data, err = json.Marshal(ch); err != nil {
		return "", errors.Wrap(err, "marshalling change")
	}
	return string(data), nil
}

// Listener feeds the changes NOTIFYed on a postgres channel into a Hub.
type Listener struct {
	hub     *Hub
	channel string
	logger  core.Logger
	pql     *pq.Listener
}

// NewListener connects to postgres with conninfo (a pq connection string or URL).
func NewListener(conninfo, channel string, hub *Hub, logger core.Logger) *Listener {
	l := &Listener{hub: hub, channel: channel, logger: logger}
	l.pql = pq.NewListener(conninfo, 100*time.Millisecond, 10*time.Second, l.onEvent)
	return l
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		l.logger.Warn("realtime: listener connection lost", err, map[string]interface{}{"channel": l.channel})
	case pq.ListenerEventReconnected:
		l.logger.Info("realtime: listener reconnected", map[string]interface{}{"channel": l.channel})
	}
}

// Run listens until ctx is done, publishing every change it receives.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.pql.Listen(l.channel); err != nil {
		return errors.Wrapf(err, "listening on %s", l.channel)
	}
	defer func() { _ = l.pql.Close() }()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.pql.Notify:
			if n == nil {
				// reconnected: notifications sent meanwhile are lost
				continue
			}
			ch, err := decodeNotification(n.Extra)
			if err != nil {
				l.logger.Warn("realtime: dropping notification", err)
				continue
			}
			l.hub.Publish(ch)
		case <-ping.C:
			go func() { _ = l.pql.Ping() }()
		}
	}
}

func decodeNotification(extra string) (Change, error) {
	var ch Change
	if err := json.Unmarshal([]byte(extra), &ch); err != nil {
		return Change{}, errors.Wrap(err, "decoding notification")
	}
	if ch.Table == "" || ch.RowID == "" {
		return Change{}, errors.New("notification is missing table or row_id")
	}
	return ch, nil
}
