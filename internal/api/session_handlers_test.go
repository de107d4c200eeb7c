package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

func TestNewEditTokenFormat(t *testing.T) {
	tok, err := newEditToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !strings.HasPrefix(tok, "vfs_") || len(tok) != 4+32 {
		t.Fatalf("unexpected token format: %q", tok)
	}
	tok2, _ := newEditToken()
	if tok == tok2 {
		t.Fatal("tokens must be unique")
	}
}

func TestCreateSessionReturnsTokenOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 1))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sessions", CreateSession)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}

	var resp CreateSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(resp.EditToken, "vfs_") {
		t.Fatalf("edit token missing prefix: %q", resp.EditToken)
	}
	if resp.ID == uuid.Nil {
		t.Fatal("session id missing")
	}
	if !resp.ExpiresAt.After(time.Now()) {
		t.Fatal("expiry must be in the future")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func sessionColumns() []string {
	return []string{"id", "status", "edit_token_hash", "layout", "email", "photo_asset_id", "audio_asset_id", "created_at", "updated_at", "expires_at"}
}

func TestGetSessionTokenChecks(t *testing.T) {
	token := "vfs_00112233445566778899aabbccddeeff"
	hash, err := utils.HashPassword(token)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sid := uuid.New()

	newRouter := func() (*gin.Engine, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		database.DB = sqlx.NewDb(db, "sqlmock")
		gin.SetMode(gin.TestMode)
		r := gin.New()
		r.GET("/v1/sessions/:sessionId", GetSession)
		return r, mock
	}

	get := func(r *gin.Engine, id, tok string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil)
		if tok != "" {
			req.Header.Set("X-Session-Token", tok)
		}
		r.ServeHTTP(w, req)
		return w
	}

	sessionRow := func(mock sqlmock.Sqlmock, expiresAt time.Time) {
		mock.ExpectQuery("FROM sessions").WithArgs(sid).WillReturnRows(
			sqlmock.NewRows(sessionColumns()).
				AddRow(sid.String(), "draft", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), expiresAt))
	}

	r, mock := newRouter()
	sessionRow(mock, time.Now().Add(time.Hour))
	if w := get(r, sid.String(), token); w.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d %s", w.Code, w.Body.String())
	}

	r, mock = newRouter()
	sessionRow(mock, time.Now().Add(time.Hour))
	if w := get(r, sid.String(), "vfs_wrongwrongwrongwrongwrongwrong"); w.Code != http.StatusForbidden {
		t.Fatalf("wrong token: expected 403, got %d", w.Code)
	}

	r, _ = newRouter()
	if w := get(r, sid.String(), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", w.Code)
	}

	r, _ = newRouter()
	if w := get(r, "not-a-uuid", token); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", w.Code)
	}

	// Expired draft
	r, mock = newRouter()
	sessionRow(mock, time.Now().Add(-time.Hour))
	if w := get(r, sid.String(), token); w.Code != http.StatusGone {
		t.Fatalf("expired draft: expected 410, got %d", w.Code)
	}
}

func TestUpdateSessionRejectsNonDraft(t *testing.T) {
	token := "vfs_00112233445566778899aabbccddeeff"
	hash, _ := utils.HashPassword(token)
	sid := uuid.New()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	database.DB = sqlx.NewDb(db, "sqlmock")

	mock.ExpectQuery("FROM sessions").WithArgs(sid).WillReturnRows(
		sqlmock.NewRows(sessionColumns()).
			AddRow(sid.String(), "paid", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), time.Now().Add(time.Hour)))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.PATCH("/v1/sessions/:sessionId", UpdateSession)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/v1/sessions/"+sid.String(), strings.NewReader(`{"email":"a@b.com"}`))
	req.Header.Set("X-Session-Token", token)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("paid session edit: expected 409, got %d %s", w.Code, w.Body.String())
	}
}
