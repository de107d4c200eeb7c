package api

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	database "github.com/voiceframe/voiceframe-backend/internal"
)

// StartExpirySweeper runs a periodic job that expires stale draft sessions
// and purges their uploaded files. Paid and fulfilled sessions are never
// touched. Returns the scheduler so the caller can Stop it on shutdown.
func StartExpirySweeper() *cron.Cron {
	schedule := os.Getenv("VF_SWEEP_CRON")
	if schedule == "" {
		schedule = "@hourly"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, SweepExpiredSessions); err != nil {
		log.Printf("expiry sweeper: bad schedule %q, falling back to hourly: %v", schedule, err)
		c.AddFunc("@hourly", SweepExpiredSessions)
	}
	c.Start()
	return c
}

// SweepExpiredSessions marks overdue drafts as expired and removes their
// assets. A session stuck in pending_payment is only expired once its
// open intent has been cancelled at the gateway, otherwise a late
// payment_intent.succeeded could mark an order paid whose files are gone.
func SweepExpiredSessions() {
	type staleSession struct {
		ID     uuid.UUID `db:"id"`
		Status string    `db:"status"`
	}
	var stale []staleSession
	query := `SELECT id, status FROM sessions
			  WHERE status IN ($1, $2) AND expires_at < $3`
	if err := database.DB.Select(&stale, query, database.SessionDraft, database.SessionPendingPayment, time.Now()); err != nil {
		log.Printf("expiry sweep: select: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	swept := 0
	for _, s := range stale {
		if s.Status == database.SessionPendingPayment {
			if err := cancelAbandonedCheckout(s.ID); err != nil {
				// Leave the session for the next sweep; the intent may
				// still complete or the cancel may succeed later.
				log.Printf("expiry sweep: cancel checkout %s: %v", s.ID, err)
				continue
			}
		}
		if _, err := database.DB.Exec(`UPDATE sessions SET status=$1, updated_at=$2 WHERE id=$3 AND status IN ($4, $5)`,
			database.SessionExpired, time.Now(), s.ID, database.SessionDraft, database.SessionPendingPayment); err != nil {
			log.Printf("expiry sweep: update %s: %v", s.ID, err)
			continue
		}
		if err := purgeSessionAssets(s.ID); err != nil {
			log.Printf("expiry sweep: purge %s: %v", s.ID, err)
		}
		swept++
	}
	RecordSweptSessions(swept)
	log.Printf("expiry sweep: expired %d sessions", swept)
}

// cancelAbandonedCheckout cancels the open payment intent of a stale
// pending_payment session and fails its order. The gateway rejects further
// charges on a cancelled intent, making it safe to purge the uploads.
func cancelAbandonedCheckout(sessionID uuid.UUID) error {
	var order struct {
		ID              uuid.UUID `db:"id"`
		PaymentIntentID string    `db:"payment_intent_id"`
	}
	err := database.DB.Get(&order, `SELECT id, payment_intent_id FROM orders
		WHERE session_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT 1`,
		sessionID, database.OrderPendingPayment)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = Gateway().CancelPaymentIntent(context.Background(), order.PaymentIntentID)
	RecordExternalOp("gateway_intent_cancel", time.Since(start), err == nil)
	if err != nil {
		return err
	}
	if _, err := database.DB.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`,
		database.OrderFailed, time.Now(), order.ID); err != nil {
		return err
	}
	RecordOrderEvent("failed")
	return nil
}
