package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/gakuten/core/autosave"
	"github.com/trezcool/gakuten/core/selfanalysis"
	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/services/realtime"
)

var testCtx = context.Background()

func createUser(t *testing.T, repo user.Repository, uname, email string) user.User {
	t.Helper()
	usr, err := repo.CreateUser(testCtx, user.User{Name: uname, Username: uname, Email: email, Role: user.RoleStudent, IsActive: true})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return usr
}

func TestUserRepository(t *testing.T) {
	repo := NewUserRepository(Open())
	hana := createUser(t, repo, "hana_s", "hana@test.jp")
	ken := createUser(t, repo, "ken_ta", "")

	tests := []struct {
		name    string
		filter  user.GetFilter
		wantID  string
		wantErr error
	}{
		{"by id", user.GetFilter{ID: hana.ID}, hana.ID, nil},
		{"by username", user.GetFilter{Username: "ken_ta"}, ken.ID, nil},
		{"by email", user.GetFilter{Email: "hana@test.jp"}, hana.ID, nil},
		{"username or email", user.GetFilter{UsernameOrEmail: []string{"hana@test.jp"}}, hana.ID, nil},
		{"unknown id", user.GetFilter{ID: "nope"}, "", user.ErrNotFound},
		{"empty filter", user.GetFilter{}, "", user.ErrNotFound},
		{"unknown username", user.GetFilter{UsernameOrEmail: []string{"x", ""}}, "", user.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetUser(testCtx, tt.filter)
			if err != tt.wantErr {
				t.Errorf("GetUser() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			assert.Equal(t, tt.wantID, got.ID)
		})
	}

	assert.Equal(t, user.ErrUserExists, repo.CheckUsernameUniqueness(testCtx, "hana_s", "", nil))
	assert.NoError(t, repo.CheckUsernameUniqueness(testCtx, "hana_s", "", []user.User{hana}))
	assert.NoError(t, repo.CheckUsernameUniqueness(testCtx, "new_one", "", nil))

	_, err := repo.CreateUser(testCtx, user.User{Username: "other", Email: "hana@test.jp"})
	assert.Equal(t, user.ErrUserExists, err)

	ken.Email = "hana@test.jp"
	_, err = repo.UpdateUser(testCtx, ken)
	assert.Equal(t, user.ErrUserExists, err)

	ken.Email = "ken@test.jp"
	updated, err := repo.UpdateOrCreateUser(testCtx, ken)
	assert.NoError(t, err)
	assert.Equal(t, "ken@test.jp", updated.Email)

	_, err = repo.UpdateUser(testCtx, user.User{ID: "nope"})
	assert.Equal(t, user.ErrNotFound, err)
}

func TestDocumentTable(t *testing.T) {
	db := Open()
	hana := createUser(t, NewUserRepository(db), "hana_s", "hana@test.jp")

	hub := realtime.NewHub()
	var ops []realtime.Op
	hub.Subscribe(selfanalysis.Table, realtime.Filter{OwnerID: hana.ID}, func(ch realtime.Change) { ops = append(ops, ch.Op) })
	table := NewDocumentTable(db, selfanalysis.Kind, hub, nil)

	row, err := table.FindOwnerRow(testCtx, hana.ID)
	assert.NoError(t, err)
	assert.Nil(t, row)

	_, err = table.InsertRow(testCtx, "ghost", selfanalysis.Kind.New(hana), time.Now())
	assert.Error(t, err)

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	doc := selfanalysis.Kind.New(hana)
	doc.Strengths = []string{"patience"}
	first, err := autosave.Upsert[selfanalysis.SelfAnalysis](testCtx, table, hana.ID, doc, at)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// the stored document does not alias the caller's
	doc.Strengths[0] = "changed"
	stored, _ := table.FindOwnerRow(testCtx, hana.ID)
	assert.Equal(t, []string{"patience"}, stored.Document.Strengths)

	second, err := autosave.Upsert[selfanalysis.SelfAnalysis](testCtx, table, hana.ID, doc, at.Add(time.Second))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, at, second.CreatedAt)

	_, err = table.InsertRow(testCtx, hana.ID, doc, at)
	assert.Equal(t, autosave.ErrDuplicateOwner, err)
	_, err = table.UpdateRow(testCtx, "missing", doc, at)
	assert.Equal(t, autosave.ErrRowNotFound, err)

	rows, err := table.ListRows(testCtx, 0)
	assert.NoError(t, err)
	assert.Len(t, rows, 1)

	assert.NoError(t, table.DeleteOwnerRow(testCtx, hana.ID))
	assert.Equal(t, autosave.ErrRowNotFound, table.DeleteOwnerRow(testCtx, hana.ID))
	assert.Equal(t, []realtime.Op{realtime.OpInsert, realtime.OpUpdate, realtime.OpDelete}, ops)
}
