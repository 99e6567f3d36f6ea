package echoapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/services/realtime"
)

type changesApi struct {
	hub      *realtime.Hub
	users    user.ServiceInterface
	upgrader websocket.Upgrader
	logger   core.Logger
	tables   map[string]bool
}

func registerChangesAPI(g *echo.Group, wsJWT echo.MiddlewareFunc, api *changesApi) {
	g.GET("/admin/changes", api.stream, wsJWT, adminMiddleware(api.users))
}

// stream pushes the hub's Changes to an admin, filtered by the `table`, `owner_id` and `op` query params.
func (api *changesApi) stream(ctx echo.Context) error {
	table := ctx.QueryParam("table")
	if table != "" && !api.tables[table] {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown table")
	}
	filter := realtime.Filter{OwnerID: ctx.QueryParam("owner_id")}
	for _, op := range ctx.QueryParams()["op"] {
		for _, o := range strings.Split(op, ",") {
			filter.Ops = append(filter.Ops, realtime.Op(strings.TrimSpace(o)))
		}
	}

	send := make(chan []byte, sendBuffer)
	done := make(chan struct{})
	cancel := api.hub.Subscribe(table, filter, func(ch realtime.Change) {
		data, err := json.Marshal(ch)
		if err != nil {
			api.logger.Error("changes: encoding change", err)
			return
		}
		select {
		case send <- data:
		case <-done:
		default:
			api.logger.Warn("changes: dropping change for slow client", map[string]interface{}{"table": ch.Table, "row_id": ch.RowID})
		}
	})

	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied
		cancel()
		return nil
	}

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case data := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					_ = conn.Close()
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	// the stream is one way: reading only serves control frames and detects the disconnect
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	cancel()
	close(done)
	_ = conn.Close()
	return nil
}
