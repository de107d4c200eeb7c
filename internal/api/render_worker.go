package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/events"
	"github.com/voiceframe/voiceframe-backend/internal/render"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

// processRenderMessage handles idempotence, runs the render, and decides
// whether to ack. Malformed payloads are acked (retrying cannot fix them);
// transient failures are not, so the reclaimer redelivers.
func processRenderMessage(ctx context.Context, msg redis.XMessage) bool {
	raw, _ := msg.Values["payload"].(string)
	var job renderJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Printf("render job %s: malformed payload, dropping: %v", msg.ID, err)
		return true
	}
	orderID, err := uuid.Parse(job.OrderID)
	if err != nil {
		log.Printf("render job %s: bad order id %q, dropping", msg.ID, job.OrderID)
		return true
	}
	if err := RenderOrder(ctx, orderID); err != nil {
		log.Printf("render order %s: %v", orderID, err)
		return false
	}
	return true
}

func audioLinkTTL() time.Duration {
	years := 20
	if v := os.Getenv("VF_AUDIO_LINK_YEARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			years = n
		}
	}
	return time.Duration(years) * 365 * 24 * time.Hour
}

// RenderOrder runs the full fulfillment for a paid order: compose the poster
// PDF, store it, email it, and mark the order fulfilled. Idempotent: a
// fulfilled order returns nil immediately.
func RenderOrder(ctx context.Context, orderID uuid.UUID) error {
	var order database.Order
	query := `SELECT id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, artifact_path, fulfilled_at, created_at, updated_at
			  FROM orders WHERE id=$1`
	if err := database.DB.Get(&order, query, orderID); err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if order.Status == database.OrderFulfilled {
		return nil
	}
	if order.Status != database.OrderPaid {
		return fmt.Errorf("order %s is %s, not paid", orderID, order.Status)
	}

	var session database.Session
	query = `SELECT id, status, edit_token_hash, layout, email, photo_asset_id, audio_asset_id, created_at, updated_at, expires_at
			 FROM sessions WHERE id=$1`
	if err := database.DB.Get(&session, query, order.SessionID); err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.PhotoAssetID == nil || session.AudioAssetID == nil || session.Email == nil {
		return fmt.Errorf("session %s is incomplete", session.ID)
	}

	var photo, audio database.Asset
	assetQuery := `SELECT id, session_id, kind, mime, bytes, sha256, path, duration_ms, created_at FROM assets WHERE id=$1`
	if err := database.DB.Get(&photo, assetQuery, *session.PhotoAssetID); err != nil {
		return fmt.Errorf("load photo asset: %w", err)
	}
	if err := database.DB.Get(&audio, assetQuery, *session.AudioAssetID); err != nil {
		return fmt.Errorf("load audio asset: %w", err)
	}

	layout, err := render.ParseLayout(session.Layout)
	if err != nil {
		return fmt.Errorf("session layout: %w", err)
	}
	photoBytes, err := os.ReadFile(photo.Path)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}

	// WAV uploads get a real waveform; other formats fall back to a
	// QR-only layout.
	var peaks []float64
	if isWav(audio.Mime) {
		audioBytes, err := os.ReadFile(audio.Path)
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}
		peaks, err = render.ExtractPeaks(bytes.NewReader(audioBytes), render.DefaultPeakBuckets)
		if err != nil {
			return fmt.Errorf("extract peaks: %w", err)
		}
	}

	listenURL, err := SignedListenURL(session.ID, time.Now().Add(audioLinkTTL()))
	if err != nil {
		return fmt.Errorf("sign listen url: %w", err)
	}

	start := time.Now()
	pdf, err := render.RenderPDF(render.Poster{
		Layout:    layout,
		Photo:     photoBytes,
		PhotoMime: photo.Mime,
		Peaks:     peaks,
		AudioURL:  listenURL,
	})
	RecordRender(time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}

	if err := os.MkdirAll(artifactsDir(), 0o755); err != nil {
		return fmt.Errorf("artifacts dir: %w", err)
	}
	artifactPath := filepath.Join(artifactsDir(), order.ID.String()+".pdf")
	if err := os.WriteFile(artifactPath, pdf, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	downloadURL, err := SignedDownloadURL(order.ID, time.Now().Add(30*24*time.Hour))
	if err != nil {
		return fmt.Errorf("sign download url: %w", err)
	}
	mailErr := SendPosterEmail(*session.Email, downloadURL, pdf)
	logEmail(order.ID, *session.Email, "artifact", mailErr)
	if mailErr != nil {
		// Leave the order paid with the artifact stored; the redelivery (or
		// an admin resend) retries the email without re-rendering.
		_, _ = database.DB.Exec(`UPDATE orders SET artifact_path=$1, updated_at=$2 WHERE id=$3`, artifactPath, time.Now(), order.ID)
		return fmt.Errorf("send email: %w", mailErr)
	}

	now := time.Now()
	tx, err := database.DB.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec(`UPDATE orders SET status=$1, artifact_path=$2, fulfilled_at=$3, updated_at=$3 WHERE id=$4`,
		database.OrderFulfilled, artifactPath, now, order.ID); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if _, err = tx.Exec(`UPDATE sessions SET status=$1, updated_at=$2 WHERE id=$3`, database.SessionFulfilled, now, session.ID); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	RecordOrderEvent("fulfilled")
	publishOrderEvent(events.TopicOrderFulfilled, order.ID, session.ID)
	return nil
}

func logEmail(orderID uuid.UUID, to, kind string, sendErr error) {
	status := "sent"
	var errStr *string
	if sendErr != nil {
		status = "failed"
		s := sendErr.Error()
		errStr = &s
	}
	if _, err := database.DB.Exec(
		`INSERT INTO email_log (order_id, to_email, kind, status, error, sent_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		orderID, to, kind, status, errStr, time.Now()); err != nil {
		log.Printf("email log insert: %v", err)
	}
}

// SignedDownloadURL mints an expiring public link for a rendered poster.
func SignedDownloadURL(orderID uuid.UUID, expires time.Time) (string, error) {
	path := "/v1/posters/" + orderID.String() + "/download"
	return signedURL(path, expires)
}

// SignedListenURL mints the long-lived QR target for a session's audio clip.
func SignedListenURL(sessionID uuid.UUID, expires time.Time) (string, error) {
	path := "/v1/audio/" + sessionID.String() + "/listen"
	return signedURL(path, expires)
}

func signedURL(path string, expires time.Time) (string, error) {
	secret, err := urlSigningSecret()
	if err != nil {
		return "", err
	}
	exp := expires.Unix()
	sig := utils.SignURLPath(secret, path, exp)
	return fmt.Sprintf("%s%s?exp=%d&sig=%s", publicBaseURL(), path, exp, sig), nil
}
