package sqlxrepos

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/services/realtime"
)

var testCtx = context.Background()

func TestUserRepository_CreateAndGet(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	hana := createUser(t, repo, "Hana", "hana_s", "hana@test.jp")
	ken := createUser(t, repo, "Ken", "", "ken@test.jp")

	tests := []struct {
		name    string
		filter  user.GetFilter
		want    string
		wantErr error
	}{
		{name: "by id", filter: user.GetFilter{ID: hana.ID}, want: hana.ID},
		{name: "by malformed id", filter: user.GetFilter{ID: "42"}, wantErr: user.ErrNotFound},
		{name: "by username", filter: user.GetFilter{Username: "hana_s"}, want: hana.ID},
		{name: "by email", filter: user.GetFilter{Email: "ken@test.jp"}, want: ken.ID},
		{name: "username or email (username)", filter: user.GetFilter{UsernameOrEmail: []string{"hana_s"}}, want: hana.ID},
		{name: "username or email (email)", filter: user.GetFilter{UsernameOrEmail: []string{"ken@test.jp"}}, want: ken.ID},
		{name: "username or email (pair)", filter: user.GetFilter{UsernameOrEmail: []string{"nobody", "ken@test.jp"}}, want: ken.ID},
		{name: "empty username does not match", filter: user.GetFilter{Username: ""}, wantErr: user.ErrNotFound},
		{name: "unknown", filter: user.GetFilter{Email: "nobody@test.jp"}, wantErr: user.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetUser(testCtx, tt.filter)
			if errors.Cause(err) != tt.wantErr {
				t.Fatalf("GetUser() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, got.ID)
		})
	}

	got, _ := repo.GetUser(testCtx, user.GetFilter{ID: hana.ID})
	assert.Equal(t, "Hana", got.Name)
	assert.Equal(t, user.RoleStudent, got.Role)
	assert.True(t, got.IsActive)
	assert.NoError(t, got.CheckPassword("Str0ng!pass"))
	assert.True(t, got.LastLogin.IsZero())
	assert.WithinDuration(t, hana.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestUserRepository_Uniqueness(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	hana := createUser(t, repo, "Hana", "hana_s", "hana@test.jp")

	tests := []struct {
		name     string
		uname    string
		email    string
		excluded []user.User
		wantErr  error
	}{
		{name: "free", uname: "ken_t", email: "ken@test.jp"},
		{name: "username taken", uname: "hana_s", email: "other@test.jp", wantErr: user.ErrUserExists},
		{name: "email taken", uname: "", email: "hana@test.jp", wantErr: user.ErrUserExists},
		{name: "excluded self", uname: "hana_s", email: "hana@test.jp", excluded: []user.User{hana}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CheckUsernameUniqueness(testCtx, tt.uname, tt.email, tt.excluded)
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("CheckUsernameUniqueness() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	_, err := repo.CreateUser(testCtx, user.User{Name: "Copy", Email: "hana@test.jp", Role: user.RoleStudent})
	assert.Equal(t, user.ErrUserExists, err)
}

func TestUserRepository_Update(t *testing.T) {
	hub := realtime.NewHub()
	var changes []realtime.Change
	hub.Subscribe("users", realtime.Filter{}, func(ch realtime.Change) { changes = append(changes, ch) })

	repo := NewUserRepository(openTestDB(t), WithNotifier(hub))
	usr := createUser(t, repo, "Hana", "hana_s", "hana@test.jp")

	login := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	usr.LastLogin = login
	usr.Role = user.RoleCompany
	updated, err := repo.UpdateUser(testCtx, usr)
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	assert.True(t, login.Equal(updated.LastLogin))
	assert.Equal(t, user.RoleCompany, updated.Role)

	_, err = repo.UpdateUser(testCtx, user.User{ID: "5f0c6a38-58e4-4f6c-9c7e-3f6e3b1c7a10", Role: user.RoleStudent})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))

	if assert.Len(t, changes, 2) {
		assert.Equal(t, realtime.OpInsert, changes[0].Op)
		assert.Equal(t, realtime.OpUpdate, changes[1].Op)
		assert.NotContains(t, string(changes[1].Payload), "password")
	}
}

func TestUserRepository_UpdateOrCreate(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	now := time.Now().UTC()

	created, err := repo.UpdateOrCreateUser(testCtx, user.User{Name: "Ken", Email: "ken@test.jp", Role: user.RoleStudent, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("UpdateOrCreateUser() error = %v", err)
	}
	assert.NotEmpty(t, created.ID)

	created.Name = "Ken T."
	updated, err := repo.UpdateOrCreateUser(testCtx, created)
	if err != nil {
		t.Fatalf("UpdateOrCreateUser() error = %v", err)
	}
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Ken T.", updated.Name)
}
