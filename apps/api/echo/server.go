package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/resume"
	"github.com/trezcool/gakuten/core/selfanalysis"
	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/services/realtime"
)

type (
	ServerDeps struct {
		Conf         *core.Config
		Logger       core.Logger
		UserSvc      user.ServiceInterface
		Resumes      *draft.Service[resume.Resume]
		SelfAnalyses *draft.Service[selfanalysis.SelfAnalysis]
		Hub          *realtime.Hub
		Validate     *validator.Validate
		Translator   ut.Translator
		Clock        clock.WithDelayedExecution // autosave timers; the real clock when nil
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		auth     *authenticator
		sessions *sessionRegistry
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(deps.Conf),
		sessions: newSessionRegistry(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := s.auth.middleware("")
	wsJWT := s.auth.middleware("query:token")
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	registerUserAPI(v1, jwt, &userApi{
		svc:        s.deps.UserSvc,
		auth:       s.auth,
		validate:   s.deps.Validate,
		translator: s.deps.Translator,
	})
	registerDraftAPI(v1, jwt, wsJWT, &draftApi[resume.Resume]{
		svc:      s.deps.Resumes,
		users:    s.deps.UserSvc,
		sessions: s.sessions,
		upgrader: upgrader,
		logger:   s.deps.Logger,
		conf:     conf.Autosave,
		clock:    s.deps.Clock,
	})
	registerDraftAPI(v1, jwt, wsJWT, &draftApi[selfanalysis.SelfAnalysis]{
		svc:      s.deps.SelfAnalyses,
		users:    s.deps.UserSvc,
		sessions: s.sessions,
		upgrader: upgrader,
		logger:   s.deps.Logger,
		conf:     conf.Autosave,
		clock:    s.deps.Clock,
	})
	registerChangesAPI(v1, wsJWT, &changesApi{
		hub:      s.deps.Hub,
		users:    s.deps.UserSvc,
		upgrader: upgrader,
		logger:   s.deps.Logger,
		tables: map[string]bool{
			resume.Table:       true,
			selfanalysis.Table: true,
		},
	})
}

func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the owner of the Server to shut it down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signalled
	}
}

// Sessions returns the number of open editing sessions.
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// Shutdown stops accepting requests, then force-flushes and closes every editing session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.Shutdown(ctx)
	if fErr := s.sessions.closeAll(ctx); fErr != nil {
		s.deps.Logger.Error("flushing editing sessions", fErr)
		if err == nil {
			err = errors.Wrap(fErr, "flushing editing sessions")
		}
	}
	return err
}

// Close stops the server immediately. Editing sessions still get one flush attempt.
func (s *Server) Close() error {
	err := s.app.Close()
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.Conf.Autosave.FlushTimeout)
	defer cancel()
	_ = s.sessions.closeAll(ctx)
	signal.Stop(s.shutdown)
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Gakuten API!")
}
