package echoapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/autosave"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/user"
)

type draftApi[T any] struct {
	svc      *draft.Service[T]
	users    user.ServiceInterface
	sessions *sessionRegistry
	upgrader websocket.Upgrader
	logger   core.Logger
	conf     core.AutosaveConfig
	clock    clock.WithDelayedExecution
}

// DraftResponse is the body of the draft endpoints.
type DraftResponse[T any] struct {
	Document  T          `json:"document"`
	Persisted bool       `json:"persisted"`
	Progress  int        `json:"progress"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func registerDraftAPI[T any](g *echo.Group, jwt, wsJWT echo.MiddlewareFunc, api *draftApi[T]) {
	students := roleMiddleware(api.users, user.RoleStudent)

	dg := g.Group("/drafts/" + api.svc.Kind().Name)
	dg.GET("", api.retrieve, jwt, students)
	dg.PUT("", api.save, jwt, students)
	dg.DELETE("", api.reset, jwt, students)

	// browsers cannot set headers on websocket requests: the token is passed in the query
	dg.GET("/edit", api.edit, wsJWT, students)
}

// Handlers

func (api *draftApi[T]) retrieve(ctx echo.Context) error {
	owner, err := getContextUser(ctx, api.users)
	if err != nil {
		return err
	}
	row, persisted, err := api.svc.Get(ctx.Request().Context(), owner)
	if err != nil {
		return errors.Wrap(err, "loading draft")
	}
	resp := DraftResponse[T]{
		Document:  row.Document,
		Persisted: persisted,
		Progress:  api.svc.Kind().ProgressOf(row.Document),
	}
	if persisted {
		resp.UpdatedAt = &row.UpdatedAt
	}
	return ctx.JSON(http.StatusOK, resp)
}

// save validates and stores the whole Document immediately.
func (api *draftApi[T]) save(ctx echo.Context) error {
	owner, err := getContextUser(ctx, api.users)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return errors.Wrap(err, "reading body")
	}
	doc, err := api.svc.Kind().Decode(body)
	if err != nil {
		return err
	}

	row, err := api.svc.Save(ctx.Request().Context(), owner, doc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, DraftResponse[T]{
		Document:  row.Document,
		Persisted: true,
		Progress:  api.svc.Kind().ProgressOf(row.Document),
		UpdatedAt: &row.UpdatedAt,
	})
}

func (api *draftApi[T]) reset(ctx echo.Context) error {
	owner, err := getContextUser(ctx, api.users)
	if err != nil {
		return err
	}
	if err = api.svc.Reset(ctx.Request().Context(), owner); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// edit upgrades to a websocket editing session backed by an autosave Controller.
func (api *draftApi[T]) edit(ctx echo.Context) error {
	if api.sessions.isClosed() {
		return errServiceUnavailable
	}
	owner, err := getContextUser(ctx, api.users)
	if err != nil {
		return err
	}

	sess := newSession(api.svc.Kind(), owner, api.sessions, api.logger, api.conf.FlushTimeout)
	ctrl, err := api.svc.Open(ctx.Request().Context(), owner, autosave.Options{
		QuietInterval: api.conf.QuietInterval,
		FlushTimeout:  api.conf.FlushTimeout,
		Clock:         api.clock,
		Logger:        api.logger,
		Hooks:         autosave.Hooks{autosave.HookFunc(sess.onEvent)},
	})
	if err != nil {
		return errors.Wrap(err, "opening editing session")
	}
	sess.ctrl = ctrl

	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// the upgrader already replied
		_ = ctrl.Close(ctx.Request().Context())
		return nil
	}
	sess.conn = conn
	sess.run()
	return nil
}
