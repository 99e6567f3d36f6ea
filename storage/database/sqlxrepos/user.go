package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/services/realtime"
)

const (
	usersTable   = "users"
	usersColumns = "id, name, username, email, role, is_active, password_hash, created_at, updated_at, last_login"
)

type userRepository struct {
	exec core.DBExecutor
	opts options
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(exec core.DBExecutor, opts ...Option) *userRepository {
	return &userRepository{exec: exec, opts: newOptions(opts)}
}

type userRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	Username     null.String `db:"username"`
	Email        null.String `db:"email"`
	Role         string      `db:"role"`
	IsActive     bool        `db:"is_active"`
	PasswordHash string      `db:"password_hash"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
	LastLogin    null.Time   `db:"last_login"`
}

func (repo userRepository) marshal(usr user.User) userRow {
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		Role:         usr.Role,
		IsActive:     usr.IsActive,
		PasswordHash: string(usr.PasswordHash),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) unmarshal(r userRow) user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		Role:         r.Role,
		IsActive:     r.IsActive,
		PasswordHash: []byte(r.PasswordHash),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time.UTC()
	}
	return usr
}

// trapNoRowsErr maps "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	exe := getExec(repo.exec, exec)

	q := "SELECT COUNT(*) FROM users WHERE (username = ? OR email = ?)"
	args := []interface{}{username, email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		var err error
		if q, args, err = sqlx.In(q+" AND id NOT IN (?)", username, email, ids); err != nil {
			return errors.Wrap(err, "building uniqueness query")
		}
	}

	var cnt int
	if err := sqlx.GetContext(ctx, exe, &cnt, exe.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if cnt > 0 {
		return user.ErrUserExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	exe := getExec(repo.exec, exec)

	usr.ID = uuid.New().String()
	r := repo.marshal(usr)
	q := "INSERT INTO users (" + usersColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err := exe.ExecContext(ctx, exe.Rebind(q),
		r.ID, r.Name, r.Username, r.Email, r.Role, r.IsActive, r.PasswordHash, r.CreatedAt, r.UpdatedAt, r.LastLogin)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}

	usr = repo.unmarshal(r)
	repo.opts.notify(ctx, usersTable, realtime.OpInsert, usr.ID, usr.ID, usr, usr.UpdatedAt)
	return usr, nil
}

func (repo userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	exe := getExec(repo.exec, exec)

	var where string
	var args []interface{}
	switch {
	case filter.ID != "":
		if _, err := uuid.Parse(filter.ID); err != nil {
			return user.User{}, user.ErrNotFound
		}
		where, args = "id = ?", []interface{}{filter.ID}
	case filter.Username != "":
		where, args = "username = ?", []interface{}{filter.Username}
	case filter.Email != "":
		where, args = "email = ?", []interface{}{filter.Email}
	case len(filter.UsernameOrEmail) > 0:
		uname := filter.UsernameOrEmail[0]
		email := uname
		if len(filter.UsernameOrEmail) > 1 && filter.UsernameOrEmail[1] != "" {
			email = filter.UsernameOrEmail[1]
			if uname == "" {
				uname = email
			}
		}
		where, args = "username = ? OR email = ?", []interface{}{uname, email}
	default:
		return user.User{}, user.ErrNotFound
	}

	var r userRow
	q := "SELECT " + usersColumns + " FROM users WHERE " + where
	if err := sqlx.GetContext(ctx, exe, &r, exe.Rebind(q), args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user")
	}
	return repo.unmarshal(r), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	exe := getExec(repo.exec, exec)

	r := repo.marshal(usr)
	sets := []string{
		"name = ?", "username = ?", "email = ?", "role = ?", "is_active = ?",
		"password_hash = ?", "updated_at = ?", "last_login = ?",
	}
	q := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := exe.ExecContext(ctx, exe.Rebind(q),
		r.Name, r.Username, r.Email, r.Role, r.IsActive, r.PasswordHash, r.UpdatedAt, r.LastLogin, r.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrUserExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}

	updated, err := repo.GetUser(ctx, user.GetFilter{ID: usr.ID}, exe)
	if err != nil {
		return user.User{}, err
	}
	repo.opts.notify(ctx, usersTable, realtime.OpUpdate, updated.ID, updated.ID, updated, updated.UpdatedAt)
	return updated, nil
}

func (repo userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}
