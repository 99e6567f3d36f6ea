package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/trezcool/gakuten/core"
	"github.com/trezcool/gakuten/core/draft"
	"github.com/trezcool/gakuten/core/resume"
	"github.com/trezcool/gakuten/core/selfanalysis"
	"github.com/trezcool/gakuten/core/user"
	"github.com/trezcool/gakuten/services/realtime"
	inmemdb "github.com/trezcool/gakuten/storage/database/inmem"
)

const testPassword = "Str0ng!pass"

var (
	testCtx = context.Background()

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

type testApp struct {
	server  *Server
	usrSvc  *user.Service
	resumes *inmemdb.DocumentTable[resume.Resume]
	hub     *realtime.Hub
}

func setup(t *testing.T) *testApp {
	t.Helper()
	conf := &core.Config{
		AppName:   "Gakuten",
		Env:       "TEST",
		TestMode:  true,
		SecretKey: "secret",
		Auth:      core.AuthConfig{JWTExpirationDelta: time.Hour},
		// timers never fire during a test: only forced flushes save
		Autosave: core.AutosaveConfig{QuietInterval: time.Hour, FlushTimeout: 5 * time.Second},
	}

	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	resume.InitValidators(validate, translator)

	db := inmemdb.Open()
	hub := realtime.NewHub()
	usrSvc := user.NewService(inmemdb.NewUserRepository(db))
	resumes := inmemdb.NewDocumentTable(db, resume.Kind, hub, nil)
	analyses := inmemdb.NewDocumentTable(db, selfanalysis.Kind, hub, nil)

	server := NewServer(ServerDeps{
		Conf:         conf,
		Logger:       core.NopLogger,
		UserSvc:      usrSvc,
		Resumes:      draft.NewService[resume.Resume](resume.Kind, resumes, validate, translator),
		SelfAnalyses: draft.NewService[selfanalysis.SelfAnalysis](selfanalysis.Kind, analyses, validate, translator),
		Hub:          hub,
		Validate:     validate,
		Translator:   translator,
	})
	t.Cleanup(func() { _ = server.Close() })
	return &testApp{server: server, usrSvc: usrSvc, resumes: resumes, hub: hub}
}

func (a *testApp) createUser(t *testing.T, name, uname, role string) user.User {
	t.Helper()
	usr, err := a.usrSvc.Create(testCtx, user.NewUser{Name: name, Username: uname, Email: uname + "@test.jp", Password: testPassword, Role: role})
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func (a *testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := a.server.auth.token(usr)
	if err != nil {
		t.Fatalf("token() failed: %v", err)
	}
	return token
}

func (a *testApp) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	t.Helper()
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, tt.path, bytes.NewReader(tt.body))
	req.Header.Set("Content-Type", "application/json")
	if tt.token != "" {
		req.Header.Set("Authorization", "Bearer "+tt.token)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

// dial opens a websocket on path against a live test server.
func (a *testApp) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(a.server)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func marshal(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal(): %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
