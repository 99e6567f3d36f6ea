package logsvc

import (
	"log"
	"sync"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/user"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelFatal {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// RollbarLogger prints to std and reports to Rollbar when a token is configured.
type RollbarLogger struct {
	std      *log.Logger
	minLevel Level
	exit     func(string)

	// rollbar's person is global: setting it and sending must not interleave
	mu sync.Mutex
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)

	minLevel := LevelInfo
	if conf.Debug {
		minLevel = LevelDebug
	}
	return &RollbarLogger{std: std, minLevel: minLevel, exit: func(msg string) { std.Fatal(msg) }}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Wait blocks until the queued reports are sent. Call it before exiting.
func (l *RollbarLogger) Wait() {
	rollbar.Wait()
}

// prepare splits args into what rollbar accepts and the acting user, if any.
// expected fmt: msg | error, map[string]interface{}, user.User
func prepare(msg string, args []interface{}) (items []interface{}, usr *user.User) {
	items = make([]interface{}, 0, len(args)+1)
	items = append(items, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if usr == nil { // only set one User
				usr = &a
			}
		case *user.User:
			if usr == nil && a != nil {
				usr = a
			}
		default:
			items = append(items, arg)
		}
	}
	return items, usr
}

func (l *RollbarLogger) log(level Level, msg string, args []interface{}) {
	if level < l.minLevel {
		return
	}
	items, usr := prepare(msg, args)

	l.mu.Lock()
	if usr != nil {
		rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
	} else {
		rollbar.ClearPerson()
	}
	switch level {
	case LevelDebug:
		rollbar.Debug(items...)
	case LevelInfo:
		rollbar.Info(items...)
	case LevelWarn:
		rollbar.Warning(items...)
	case LevelError:
		rollbar.Error(items...)
	default:
		rollbar.Critical(items...)
	}
	l.mu.Unlock()

	l.std.Printf("[%s] %s", level, msg)
	// stack traces go to rollbar only
	for _, item := range items[1:] {
		l.std.Printf("  %v", item)
	}
	if usr != nil {
		l.std.Printf("  user: %s", usr.ID)
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args) }
func (l *RollbarLogger) Info(msg string, args ...interface{})  { l.log(LevelInfo, msg, args) }
func (l *RollbarLogger) Warn(msg string, args ...interface{})  { l.log(LevelWarn, msg, args) }
func (l *RollbarLogger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args) }

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(LevelFatal, msg, args)
	l.Wait()
	l.exit(msg)
}
