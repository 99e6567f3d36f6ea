package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/gakuten/core"
	logsvc "github.com/trezcool/gakuten/services/logger"
	"github.com/trezcool/gakuten/services/realtime"
	"github.com/trezcool/gakuten/storage/database"
	"github.com/trezcool/gakuten/storage/database/sqlxrepos"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()
	logger = logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// set up DB
	db, err := database.Open(conf)
	errAndDie(err)
	errAndDie(database.Ping(ctx, db))

	hub := realtime.NewHub()
	cli := commandLine{
		db:      db,
		usrRepo: sqlxrepos.NewUserRepository(db, sqlxrepos.WithNotifier(hub), sqlxrepos.WithLogger(logger)),
		hub:     hub,
		logger:  logger,
		out:     os.Stdout,
	}
	if conf.Database.Engine == database.EnginePostgres {
		cli.listener = realtime.NewListener(database.ConnString(conf, conf.Database.Name, false), conf.Database.ChangeChannel, hub, logger)
	}

	err = cli.run(ctx, os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %s", err), err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}
