package sqlxrepos

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/storage/database"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func createUser(t *testing.T, repo user.Repository, name, uname, email string) user.User {
	t.Helper()
	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      user.RoleStudent,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword("Str0ng!pass"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	usr, err := repo.CreateUser(testCtx, usr)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return usr
}
