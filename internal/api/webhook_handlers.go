package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/events"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

const webhookMaxBody = 64 << 10

// Gateway event types the backend consumes.
const (
	eventIntentSucceeded = "payment_intent.succeeded"
	eventIntentFailed    = "payment_intent.payment_failed"
)

type gatewayEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Amount   int64             `json:"amount"`
			Currency string            `json:"currency"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func webhookSecret() string { return os.Getenv("VF_PAYMENT_WEBHOOK_SECRET") }

func webhookTolerance() time.Duration {
	secs := 300
	if v := os.Getenv("VF_WEBHOOK_TOLERANCE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			secs = n
		}
	}
	return time.Duration(secs) * time.Second
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]".
func parseSignatureHeader(h string) (ts int64, sigs []string, err error) {
	for _, part := range strings.Split(h, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err = strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("bad timestamp in signature header")
			}
		case "v1":
			sigs = append(sigs, kv[1])
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("signature header missing t or v1")
	}
	return ts, sigs, nil
}

// HandlePaymentWebhook processes gateway events. Signature verification uses
// the Stripe scheme (HMAC-SHA256 over "{t}.{body}"); events are idempotent
// per gateway event id via the processed_events table.
func HandlePaymentWebhook(c *gin.Context) {
	secret := webhookSecret()
	if secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Webhook secret not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	ts, sigs, err := parseSignatureHeader(c.GetHeader("Stripe-Signature"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if d := time.Since(time.Unix(ts, 0)); d > webhookTolerance() || d < -webhookTolerance() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature timestamp outside tolerance"})
		return
	}
	valid := false
	for _, sig := range sigs {
		if utils.VerifyWebhookSignature(secret, ts, body, sig) {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signature"})
		return
	}

	var ev gatewayEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event"})
		return
	}

	// Replays are acknowledged without effect. The marker row is written in
	// the same transaction as the state change, so a delivery that fails
	// mid-flight leaves no marker and the gateway's retry still applies.
	var seen bool
	if err := database.DB.Get(&seen, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id=$1)`, ev.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if seen {
		c.JSON(http.StatusOK, gin.H{"status": "already processed"})
		return
	}

	switch ev.Type {
	case eventIntentSucceeded:
		if err := handleIntentSucceeded(c, &ev); err != nil {
			return // response already written
		}
	case eventIntentFailed:
		if err := handleIntentFailed(c, &ev); err != nil {
			return
		}
	default:
		// Unknown event types carry no state change; record them directly
		// and acknowledge so the gateway stops retrying.
		if _, err := database.DB.Exec(markEventQuery, ev.ID, time.Now()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const markEventQuery = `INSERT INTO processed_events(event_id, received_at) VALUES ($1,$2) ON CONFLICT DO NOTHING`

// markEventProcessed claims the event id inside tx. A false return means a
// concurrent delivery already claimed it.
func markEventProcessed(tx *sqlx.Tx, eventID string) (bool, error) {
	res, err := tx.Exec(markEventQuery, eventID, time.Now())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func orderFromEvent(c *gin.Context, ev *gatewayEvent) (*database.Order, error) {
	orderID, err := uuid.Parse(ev.Data.Object.Metadata["order_id"])
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Event missing order_id metadata"})
		return nil, err
	}
	var order database.Order
	query := `SELECT id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, artifact_path, fulfilled_at, created_at, updated_at
			  FROM orders WHERE id=$1`
	if err := database.DB.Get(&order, query, orderID); err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return nil, err
	}
	if order.PaymentIntentID != ev.Data.Object.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Intent does not match order"})
		return nil, fmt.Errorf("intent mismatch")
	}
	return &order, nil
}

func handleIntentSucceeded(c *gin.Context, ev *gatewayEvent) error {
	order, err := orderFromEvent(c, ev)
	if err != nil {
		return err
	}
	if order.Status != database.OrderPendingPayment {
		return nil // already transitioned; ack
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	claimed, err := markEventProcessed(tx, ev.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return err
	}
	if !claimed {
		tx.Rollback()
		return nil // concurrent delivery won; ack
	}
	now := time.Now()
	if _, err = tx.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, database.OrderPaid, now, order.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order"})
		return err
	}
	if _, err = tx.Exec(`UPDATE sessions SET status=$1, updated_at=$2 WHERE id=$3`, database.SessionPaid, now, order.SessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session"})
		return err
	}
	// Redemption is counted only on successful payment.
	if order.PromoCode != nil {
		if _, err = tx.Exec(`UPDATE promo_codes SET times_redeemed = times_redeemed + 1 WHERE lower(code)=lower($1)`, *order.PromoCode); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record redemption"})
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit"})
		return err
	}

	RecordOrderEvent("paid")
	publishOrderEvent(events.TopicOrderPaid, order.ID, order.SessionID)

	// Hand the order to the fulfillment pipeline. Without a queue, render
	// inline in the background so single-instance deployments still work.
	if err := EnqueueRender(order.ID); err != nil {
		log.Printf("queue unavailable (%v); rendering order %s inline", err, order.ID)
		go func(id uuid.UUID) {
			if rerr := RenderOrder(context.Background(), id); rerr != nil {
				log.Printf("inline render for order %s failed: %v", id, rerr)
			}
		}(order.ID)
	}
	return nil
}

func handleIntentFailed(c *gin.Context, ev *gatewayEvent) error {
	order, err := orderFromEvent(c, ev)
	if err != nil {
		return err
	}
	if order.Status != database.OrderPendingPayment {
		return nil
	}
	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start transaction"})
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	claimed, err := markEventProcessed(tx, ev.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return err
	}
	if !claimed {
		tx.Rollback()
		return nil
	}
	now := time.Now()
	if _, err = tx.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, database.OrderFailed, now, order.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update order"})
		return err
	}
	// Reopen the session so the customer can retry checkout.
	if _, err = tx.Exec(`UPDATE sessions SET status=$1, updated_at=$2 WHERE id=$3`, database.SessionDraft, now, order.SessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session"})
		return err
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit"})
		return err
	}
	RecordOrderEvent("failed")
	publishOrderEvent(events.TopicOrderFailed, order.ID, order.SessionID)
	return nil
}

func publishOrderEvent(topic string, orderID, sessionID uuid.UUID) {
	payload, _ := json.Marshal(map[string]string{
		"order_id":   orderID.String(),
		"session_id": sessionID.String(),
	})
	if err := EventBus().Publish(context.Background(), events.Event{Topic: topic, Payload: payload}); err != nil {
		log.Printf("publish %s: %v", topic, err)
	}
}
