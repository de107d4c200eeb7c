package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

// verifySignedRequest checks the exp/sig query pair against the request path.
// Returns false after writing the error response.
func verifySignedRequest(c *gin.Context) bool {
	expStr := c.Query("exp")
	sig := c.Query("sig")
	if expStr == "" || sig == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Missing link signature"})
		return false
	}
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid link signature"})
		return false
	}
	if time.Now().Unix() > exp {
		c.JSON(http.StatusGone, gin.H{"error": "Link has expired"})
		return false
	}
	secret, err := urlSigningSecret()
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid link signature"})
		return false
	}
	if !utils.VerifyURLSignature(secret, c.Request.URL.Path, exp, sig) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid link signature"})
		return false
	}
	return true
}

// DownloadPoster serves a rendered poster PDF behind a signed expiring link.
// GET /v1/posters/:orderId/download?exp=...&sig=...
func DownloadPoster(c *gin.Context) {
	if !verifySignedRequest(c) {
		return
	}
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var order database.Order
	query := `SELECT id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, artifact_path, fulfilled_at, created_at, updated_at
			  FROM orders WHERE id=$1`
	if err := database.DB.Get(&order, query, orderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if order.Status != database.OrderFulfilled || order.ArtifactPath == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Poster is not ready yet"})
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.FileAttachment(*order.ArtifactPath, "voiceframe-poster.pdf")
}

// ListenAudio streams the session's audio clip. This is the target of the QR
// code printed on the poster, signed with a long expiry.
// GET /v1/audio/:sessionId/listen?exp=...&sig=...
func ListenAudio(c *gin.Context) {
	if !verifySignedRequest(c) {
		return
	}
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	var session database.Session
	query := `SELECT id, status, edit_token_hash, layout, email, photo_asset_id, audio_asset_id, created_at, updated_at, expires_at
			  FROM sessions WHERE id=$1`
	if err := database.DB.Get(&session, query, sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if session.AudioAssetID == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No audio for this session"})
		return
	}

	var audio database.Asset
	if err := database.DB.Get(&audio,
		`SELECT id, session_id, kind, mime, bytes, sha256, path, duration_ms, created_at FROM assets WHERE id=$1`,
		*session.AudioAssetID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audio not found"})
		return
	}

	c.Header("Cache-Control", "private, max-age=3600")
	c.Header("Content-Type", audio.Mime)
	c.File(audio.Path)
}
