package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) CheckUsernameUniqueness(_ context.Context, username, email string, excludedUsers []user.User, _ ...core.DBExecutor) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	excluded := make(map[string]bool, len(excludedUsers))
	for _, u := range excludedUsers {
		excluded[u.ID] = true
	}
	for id, usr := range repo.db.table {
		if excluded[id] {
			continue
		}
		if repo.conflicts(*usr, username, email) {
			return user.ErrUserExists
		}
	}
	return nil
}

// conflicts mirrors the sql unique constraints: empty usernames and emails are NULL and never collide.
func (repo *userRepository) conflicts(usr user.User, username, email string) bool {
	return (username != "" && usr.Username == username) || (email != "" && usr.Email == email)
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, u := range repo.db.table {
		if repo.conflicts(*u, usr.Username, usr.Email) {
			return user.User{}, user.ErrUserExists
		}
	}
	usr.ID = uuid.NewString()
	usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUser(_ context.Context, filter user.GetFilter, _ ...core.DBExecutor) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var match func(u *user.User) bool
	switch {
	case filter.ID != "":
		if usr, ok := repo.db.table[filter.ID]; ok {
			return *usr, nil
		}
		return user.User{}, user.ErrNotFound
	case filter.Username != "":
		match = func(u *user.User) bool { return u.Username == filter.Username }
	case filter.Email != "":
		match = func(u *user.User) bool { return u.Email == filter.Email }
	case len(filter.UsernameOrEmail) > 0:
		uname := filter.UsernameOrEmail[0]
		email := uname
		if len(filter.UsernameOrEmail) > 1 && filter.UsernameOrEmail[1] != "" {
			email = filter.UsernameOrEmail[1]
		}
		match = func(u *user.User) bool {
			return (uname != "" && u.Username == uname) || (email != "" && u.Email == email)
		}
	default:
		return user.User{}, user.ErrNotFound
	}

	for _, usr := range repo.db.table {
		if match(usr) {
			return *usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User, _ ...core.DBExecutor) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.table[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	for id, u := range repo.db.table {
		if id == usr.ID {
			continue
		}
		if repo.conflicts(*u, usr.Username, usr.Email) {
			return user.User{}, user.ErrUserExists
		}
	}
	usr.CreatedAt = orig.CreatedAt
	repo.db.table[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) UpdateOrCreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		return repo.CreateUser(ctx, usr, exec...)
	}
	return repo.UpdateUser(ctx, usr, exec...)
}
