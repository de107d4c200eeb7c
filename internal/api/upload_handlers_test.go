package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func multipartFile(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	return &body, mw.FormDataContentType()
}

func TestUploadPhoto(t *testing.T) {
	os.Setenv("VF_STORAGE_DIR", t.TempDir())
	t.Cleanup(func() { os.Unsetenv("VF_STORAGE_DIR") })

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
			AddRow(sid.String(), "draft", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), time.Now().Add(time.Hour)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET photo_asset_id").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sessions/:sessionId/photo", UploadPhoto)

	body, contentType := multipartFile(t, "file", "me.png", pngBytes(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sid.String()+"/photo", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-Token", token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var info AssetInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Kind != "photo" || info.Mime != "image/png" || info.Bytes == 0 {
		t.Fatalf("unexpected asset info: %+v", info)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	os.Setenv("VF_STORAGE_DIR", t.TempDir())
	t.Cleanup(func() { os.Unsetenv("VF_STORAGE_DIR") })

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
			AddRow(sid.String(), "draft", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), time.Now().Add(time.Hour)))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sessions/:sessionId/photo", UploadPhoto)

	body, contentType := multipartFile(t, "file", "notes.txt", []byte("just some text, not an image"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sid.String()+"/photo", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-Token", token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d %s", w.Code, w.Body.String())
	}
}

// mp3Bytes sniffs as audio/mpeg and declares 128 kbps in its first frame
// header, so audioBytes of frame data estimate to audioBytes*8/128000 seconds.
func mp3Bytes(audioBytes int) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 0})
	frames := make([]byte, audioBytes)
	frames[0], frames[1], frames[2], frames[3] = 0xff, 0xfb, 0x90, 0x00
	buf.Write(frames)
	return buf.Bytes()
}

func TestUploadAudioRecordsEstimatedDuration(t *testing.T) {
	os.Setenv("VF_STORAGE_DIR", t.TempDir())
	t.Cleanup(func() { os.Unsetenv("VF_STORAGE_DIR") })

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
			AddRow(sid.String(), "draft", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), time.Now().Add(time.Hour)))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions SET audio_asset_id").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sessions/:sessionId/audio", UploadAudio)

	// 32000 bytes at 128 kbps is about two seconds.
	body, contentType := multipartFile(t, "file", "clip.mp3", mp3Bytes(32000))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sid.String()+"/audio", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-Token", token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var info AssetInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.DurationMS == nil || *info.DurationMS < 1000 || *info.DurationMS > 3000 {
		t.Fatalf("expected ~2000ms duration, got %+v", info.DurationMS)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUploadAudioRejectsOverlongClip(t *testing.T) {
	os.Setenv("VF_STORAGE_DIR", t.TempDir())
	os.Setenv("VF_MAX_AUDIO_SECONDS", "1")
	t.Cleanup(func() {
		os.Unsetenv("VF_STORAGE_DIR")
		os.Unsetenv("VF_MAX_AUDIO_SECONDS")
	})

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
			AddRow(sid.String(), "draft", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), time.Now().Add(time.Hour)))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sessions/:sessionId/audio", UploadAudio)

	// 40000 bytes at 128 kbps is ~2.5s, over the 1s cap. No row may be
	// written even though the file itself is within the size limit.
	body, contentType := multipartFile(t, "file", "long.mp3", mp3Bytes(40000))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sid.String()+"/audio", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-Token", token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUploadLockedAfterPaymentStarted(t *testing.T) {
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
			AddRow(sid.String(), "pending_payment", hash, []byte(`{}`), nil, nil, nil, time.Now(), time.Now(), time.Now().Add(time.Hour)))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/sessions/:sessionId/photo", UploadPhoto)

	body, contentType := multipartFile(t, "file", "me.png", pngBytes(t))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sid.String()+"/photo", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session-Token", token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", w.Code, w.Body.String())
	}
}

func TestStoreContentAddressedDeduplicates(t *testing.T) {
	os.Setenv("VF_STORAGE_DIR", t.TempDir())
	t.Cleanup(func() { os.Unsetenv("VF_STORAGE_DIR") })

	data := []byte("same bytes both times")
	p1, sum1, err := storeContentAddressed(data)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	p2, sum2, err := storeContentAddressed(data)
	if err != nil {
		t.Fatalf("store again: %v", err)
	}
	if p1 != p2 || sum1 != sum2 {
		t.Fatalf("duplicate content should share a path: %s vs %s", p1, p2)
	}
	stored, err := os.ReadFile(p1)
	if err != nil || !bytes.Equal(stored, data) {
		t.Fatalf("stored bytes mismatch: %v", err)
	}
}
