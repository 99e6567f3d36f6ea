// Package inmemdb is a map backed storage used by tests and the demo server.
package inmemdb

import (
	"sync"

	"github.com/trezcool/gakuten/core/user"
)

type (
	DB struct {
		user *userTable
	}

	userTable struct {
		table map[string]*user.User
		mutex sync.RWMutex
	}
)

func Open() *DB {
	return &DB{
		user: &userTable{table: make(map[string]*user.User)},
	}
}

// HasUser reports whether a user with id exists. Document tables use it as their foreign key check.
func (db *DB) HasUser(id string) bool {
	db.user.mutex.RLock()
	defer db.user.mutex.RUnlock()
	_, ok := db.user.table[id]
	return ok
}
