package api

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/render"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

const editTokenHeader = "X-Session-Token"

func sessionTTL() time.Duration {
	hours := 72
	if v := os.Getenv("VF_SESSION_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			hours = n
		}
	}
	return time.Duration(hours) * time.Hour
}

func newEditToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "vfs_" + hex.EncodeToString(buf), nil
}

// CreateSession starts a new anonymous poster session and returns the edit
// token the client must present on all further calls for this session.
func CreateSession(c *gin.Context) {
	token, err := newEditToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate session token"})
		return
	}
	tokenHash, err := utils.HashPassword(token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash session token"})
		return
	}

	layout, _ := json.Marshal(render.DefaultLayout())
	now := time.Now()
	s := database.Session{
		ID:            uuid.New(),
		Status:        database.SessionDraft,
		EditTokenHash: tokenHash,
		Layout:        layout,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(sessionTTL()),
	}
	query := `INSERT INTO sessions (id, status, edit_token_hash, layout, created_at, updated_at, expires_at)
			  VALUES (:id, :status, :edit_token_hash, :layout, :created_at, :updated_at, :expires_at)`
	if _, err := database.DB.NamedExec(query, s); err != nil {
		log.Printf("create session failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{ID: s.ID, EditToken: token, ExpiresAt: s.ExpiresAt})
}

// loadAuthorizedSession fetches the session in the :sessionId param and
// checks the caller-held edit token against the stored hash. Writes the error
// response itself and returns ok=false on failure.
func loadAuthorizedSession(c *gin.Context) (*database.Session, bool) {
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return nil, false
	}
	token := c.GetHeader(editTokenHeader)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": editTokenHeader + " header required"})
		return nil, false
	}

	var s database.Session
	query := `SELECT id, status, edit_token_hash, layout, email, photo_asset_id, audio_asset_id, created_at, updated_at, expires_at
			  FROM sessions WHERE id=$1`
	if err := database.DB.Get(&s, query, sessionID); err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return nil, false
	}
	if !utils.CheckPasswordHash(token, s.EditTokenHash) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid session token"})
		return nil, false
	}
	if s.Status == database.SessionDraft && time.Now().After(s.ExpiresAt) {
		c.JSON(http.StatusGone, gin.H{"error": "Session expired"})
		return nil, false
	}
	return &s, true
}

func assetInfoByID(id uuid.UUID) *AssetInfo {
	var a database.Asset
	query := `SELECT id, session_id, kind, mime, bytes, sha256, path, duration_ms, created_at FROM assets WHERE id=$1`
	if err := database.DB.Get(&a, query, id); err != nil {
		return nil
	}
	return &AssetInfo{ID: a.ID, Kind: a.Kind, Mime: a.Mime, Bytes: a.Bytes, DurationMS: a.DurationMS, UploadedAt: a.CreatedAt}
}

func sessionResponse(s *database.Session) SessionResponse {
	resp := SessionResponse{
		ID:        s.ID,
		Status:    s.Status,
		Layout:    s.Layout,
		Email:     s.Email,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	if s.PhotoAssetID != nil {
		resp.Photo = assetInfoByID(*s.PhotoAssetID)
	}
	if s.AudioAssetID != nil {
		resp.Audio = assetInfoByID(*s.AudioAssetID)
	}
	return resp
}

// GetSession returns the caller's session.
func GetSession(c *gin.Context) {
	s, ok := loadAuthorizedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s))
}

// UpdateSession changes the layout customization and/or recipient email.
// Layout is immutable once the session has left draft.
func UpdateSession(c *gin.Context) {
	s, ok := loadAuthorizedSession(c)
	if !ok {
		return
	}
	if s.Status != database.SessionDraft {
		c.JSON(http.StatusConflict, gin.H{"error": "Session can no longer be edited"})
		return
	}

	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if req.Layout != nil {
		layout, err := render.ParseLayout(req.Layout)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		raw, _ := json.Marshal(layout)
		s.Layout = raw
	}
	if req.Email != nil {
		s.Email = req.Email
	}
	s.UpdatedAt = time.Now()

	query := `UPDATE sessions SET layout=$1, email=$2, updated_at=$3 WHERE id=$4`
	if _, err := database.DB.Exec(query, s.Layout, s.Email, s.UpdatedAt, s.ID); err != nil {
		log.Printf("update session %s failed: %v", s.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session"})
		return
	}
	c.JSON(http.StatusOK, sessionResponse(s))
}

// DeleteSession removes a draft session together with its uploaded files.
func DeleteSession(c *gin.Context) {
	s, ok := loadAuthorizedSession(c)
	if !ok {
		return
	}
	if s.Status != database.SessionDraft {
		c.JSON(http.StatusConflict, gin.H{"error": "Only draft sessions can be deleted"})
		return
	}
	if err := purgeSessionAssets(s.ID); err != nil {
		log.Printf("purge assets for session %s: %v", s.ID, err)
	}
	if _, err := database.DB.Exec(`DELETE FROM sessions WHERE id=$1`, s.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// purgeSessionAssets removes asset rows for a session and unlinks each file
// unless another asset row still references the same content hash.
func purgeSessionAssets(sessionID uuid.UUID) error {
	var assets []database.Asset
	if err := database.DB.Select(&assets, `SELECT id, session_id, kind, mime, bytes, sha256, path, duration_ms, created_at FROM assets WHERE session_id=$1`, sessionID); err != nil {
		return err
	}
	for _, a := range assets {
		if _, err := database.DB.Exec(`DELETE FROM assets WHERE id=$1`, a.ID); err != nil {
			return err
		}
		var refs int
		if err := database.DB.Get(&refs, `SELECT count(*) FROM assets WHERE sha256=$1`, a.SHA256); err == nil && refs == 0 {
			_ = os.Remove(a.Path)
		}
	}
	return nil
}
