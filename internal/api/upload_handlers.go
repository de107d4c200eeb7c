package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/render"
)

// Sniffed content types accepted per asset kind. The filename extension is
// never trusted.
var photoMimes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

var audioMimes = map[string]bool{
	"audio/wave":  true, // http.DetectContentType's name for RIFF/WAV
	"audio/x-wav": true,
	"audio/mpeg":  true, // mp3
	"video/mp4":   true, // m4a containers sniff as mp4
}

func maxUploadBytes(kind string) int64 {
	def := int64(10 << 20) // photos
	envKey := "VF_MAX_PHOTO_MB"
	if kind == database.AssetAudio {
		def = 25 << 20
		envKey = "VF_MAX_AUDIO_MB"
	}
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return int64(n) << 20
		}
	}
	return def
}

func maxAudioDuration() time.Duration {
	secs := 300
	if v := os.Getenv("VF_MAX_AUDIO_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			secs = n
		}
	}
	return time.Duration(secs) * time.Second
}

// UploadPhoto handles POST /v1/sessions/:sessionId/photo.
func UploadPhoto(c *gin.Context) { handleUpload(c, database.AssetPhoto) }

// UploadAudio handles POST /v1/sessions/:sessionId/audio.
func UploadAudio(c *gin.Context) { handleUpload(c, database.AssetAudio) }

func handleUpload(c *gin.Context, kind string) {
	s, ok := loadAuthorizedSession(c)
	if !ok {
		return
	}
	if s.Status != database.SessionDraft {
		c.JSON(http.StatusConflict, gin.H{"error": "Uploads are closed once payment has started"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart field 'file' required"})
		return
	}
	limit := maxUploadBytes(kind)
	if fh.Size > limit {
		RecordUpload(kind, false)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d MB limit", limit>>20)})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer f.Close()
	// limit+1 so an underreported Content-Length still cannot exceed the cap
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	if int64(len(data)) > limit {
		RecordUpload(kind, false)
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d MB limit", limit>>20)})
		return
	}

	mime := http.DetectContentType(data)
	allowed := photoMimes
	if kind == database.AssetAudio {
		allowed = audioMimes
	}
	if !allowed[mime] {
		RecordUpload(kind, false)
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Unsupported content type: " + mime})
		return
	}

	var durationMS *int64
	if kind == database.AssetAudio {
		dur, err := audioDuration(mime, data)
		if err != nil {
			RecordUpload(kind, false)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Could not determine audio duration"})
			return
		}
		if dur > maxAudioDuration() {
			RecordUpload(kind, false)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("Audio longer than %s limit", maxAudioDuration())})
			return
		}
		ms := dur.Milliseconds()
		durationMS = &ms
	}

	path, sum, err := storeContentAddressed(data)
	if err != nil {
		log.Printf("store upload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	asset := database.Asset{
		ID:         uuid.New(),
		SessionID:  s.ID,
		Kind:       kind,
		Mime:       mime,
		Bytes:      int64(len(data)),
		SHA256:     sum,
		Path:       path,
		DurationMS: durationMS,
		CreatedAt:  time.Now(),
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	insert := `INSERT INTO assets (id, session_id, kind, mime, bytes, sha256, path, duration_ms, created_at)
			   VALUES (:id, :session_id, :kind, :mime, :bytes, :sha256, :path, :duration_ms, :created_at)`
	if _, err = tx.NamedExec(insert, asset); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record upload"})
		return
	}

	// Re-upload replaces the previous asset of this kind.
	column := "photo_asset_id"
	prev := s.PhotoAssetID
	if kind == database.AssetAudio {
		column = "audio_asset_id"
		prev = s.AudioAssetID
	}
	if _, err = tx.Exec(`UPDATE sessions SET `+column+`=$1, updated_at=$2 WHERE id=$3`, asset.ID, time.Now(), s.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to attach upload"})
		return
	}
	if prev != nil {
		if _, err = tx.Exec(`DELETE FROM assets WHERE id=$1`, *prev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to replace previous upload"})
			return
		}
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit upload"})
		return
	}

	RecordUpload(kind, true)
	c.JSON(http.StatusCreated, AssetInfo{
		ID: asset.ID, Kind: asset.Kind, Mime: asset.Mime, Bytes: asset.Bytes,
		DurationMS: asset.DurationMS, UploadedAt: asset.CreatedAt,
	})
}

func isWav(mime string) bool { return mime == "audio/wave" || mime == "audio/x-wav" }

// audioDuration measures (WAV) or estimates (MP3, M4A) the clip length so
// the duration cap applies to every accepted format. Audio whose length
// cannot be determined is rejected upstream.
func audioDuration(mime string, data []byte) (time.Duration, error) {
	switch {
	case isWav(mime):
		return render.WavDuration(bytes.NewReader(data))
	case mime == "audio/mpeg":
		return render.MP3Duration(data)
	case mime == "video/mp4":
		return render.MP4Duration(data)
	}
	return 0, fmt.Errorf("no duration reader for %s", mime)
}

// storeContentAddressed writes data under assetsDir()/<aa>/<sha256>, keyed by
// content hash so duplicate uploads share one file.
func storeContentAddressed(data []byte) (path, sum string, err error) {
	h := sha256.Sum256(data)
	sum = hex.EncodeToString(h[:])
	dir := filepath.Join(assetsDir(), sum[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	path = filepath.Join(dir, sum)
	if _, statErr := os.Stat(path); statErr == nil {
		return path, sum, nil // already stored
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", "", err
	}
	return path, sum, nil
}
