package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/gakuten/apps/api/echo"
	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/resume"
	"github.com/trezcool/gakuten/core/selfanalysis"
	"github.com/trezcool/gakuten/core/user"
	logsvc "github.com/trezcool/gakuten/services/logger"
	"github.com/trezcool/gakuten/services/realtime"
	"github.com/trezcool/gakuten/storage/database"
	"github.com/trezcool/gakuten/storage/database/sqlxrepos"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type ServerParam struct {
	dig.In
	Conf         *core.Config
	Logger       core.Logger
	UserSvc      user.ServiceInterface
	Resumes      *draft.Service[resume.Resume]
	SelfAnalyses *draft.Service[selfanalysis.SelfAnalysis]
	Hub          *realtime.Hub
	Validate     *validator.Validate
	Translator   ut.Translator
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	return logsvc.NewRollbarLogger(stdLogger, conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Ping(ctx, db); err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

// newNotifier picks how repositories announce their writes.
// Postgres goes through NOTIFY so that every API process sees every change; the Listener feeds them back into the hub.
// Sqlite is single process: the hub is notified directly.
func newNotifier(conf *core.Config, db *sqlx.DB, hub *realtime.Hub) realtime.Notifier {
	if conf.Database.Engine == database.EnginePostgres {
		return realtime.NewPGNotifier(db, conf.Database.ChangeChannel)
	}
	return hub
}

// newListener returns nil unless the engine is postgres.
func newListener(conf *core.Config, hub *realtime.Hub, loggerParam DBLoggerParam) *realtime.Listener {
	if conf.Database.Engine != database.EnginePostgres {
		return nil
	}
	conninfo := database.ConnString(conf, conf.Database.Name, false)
	return realtime.NewListener(conninfo, conf.Database.ChangeChannel, hub, loggerParam.Logger)
}

func newUserRepository(db *sqlx.DB, notifier realtime.Notifier, loggerParam DBLoggerParam) user.Repository {
	return sqlxrepos.NewUserRepository(db, sqlxrepos.WithNotifier(notifier), sqlxrepos.WithLogger(loggerParam.Logger))
}

func newResumeService(
	db *sqlx.DB,
	notifier realtime.Notifier,
	loggerParam DBLoggerParam,
	validate *validator.Validate,
	translator ut.Translator,
) *draft.Service[resume.Resume] {
	store := sqlxrepos.NewDocumentRepository(db, resume.Kind,
		sqlxrepos.WithNotifier(notifier), sqlxrepos.WithLogger(loggerParam.Logger))
	return draft.NewService[resume.Resume](resume.Kind, store, validate, translator)
}

func newSelfAnalysisService(
	db *sqlx.DB,
	notifier realtime.Notifier,
	loggerParam DBLoggerParam,
	validate *validator.Validate,
	translator ut.Translator,
) *draft.Service[selfanalysis.SelfAnalysis] {
	store := sqlxrepos.NewDocumentRepository(db, selfanalysis.Kind,
		sqlxrepos.WithNotifier(notifier), sqlxrepos.WithLogger(loggerParam.Logger))
	return draft.NewService[selfanalysis.SelfAnalysis](selfanalysis.Kind, store, validate, translator)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newServer(p ServerParam) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:         p.Conf,
		Logger:       p.Logger,
		UserSvc:      p.UserSvc,
		Resumes:      p.Resumes,
		SelfAnalyses: p.SelfAnalyses,
		Hub:          p.Hub,
		Validate:     p.Validate,
		Translator:   p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(realtime.NewHub))
	must(c.Provide(newNotifier))
	must(c.Provide(newListener))
	must(c.Provide(newUserRepository))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(user.NewService, dig.As(new(user.ServiceInterface))))
	must(c.Provide(newResumeService))
	must(c.Provide(newSelfAnalysisService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
