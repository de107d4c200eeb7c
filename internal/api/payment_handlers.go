package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/voiceframe/voiceframe-backend/internal"
)

// Product catalog. Prices are server-side only; the client never sends an
// amount.
var productPrices = map[string]int64{
	"digital":  1900,
	"print_a4": 2900,
	"print_a3": 3900,
}

func currency() string {
	if c := os.Getenv("VF_CURRENCY"); c != "" {
		return strings.ToLower(c)
	}
	return "eur"
}

// minChargeCents is the smallest amount the gateway will accept.
const minChargeCents = 50

// promoError is a user-visible promo rejection reason.
type promoError struct{ reason string }

func (e *promoError) Error() string { return e.reason }

// validatePromoCode runs the promotion-code validation flow: resolve the code
// (local mirror first, then the gateway), then check active/expiry/redemption
// cap/minimum amount. Returns the discount in cents.
func validatePromoCode(ctx context.Context, code string, baseCents int64) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, nil
	}

	var local database.PromoCode
	err := database.DB.Get(&local,
		`SELECT id, code, gateway_id, percent_off, amount_off_cents, min_amount_cents, max_redemptions, times_redeemed, active, expires_at, created_at
		 FROM promo_codes WHERE lower(code)=lower($1)`, code)
	switch {
	case err == nil:
		if !local.Active {
			return 0, &promoError{"promotion code is no longer active"}
		}
		if local.ExpiresAt != nil && time.Now().After(*local.ExpiresAt) {
			return 0, &promoError{"promotion code has expired"}
		}
		if local.MaxRedemptions != nil && local.TimesRedeemed >= *local.MaxRedemptions {
			return 0, &promoError{"promotion code has been fully redeemed"}
		}
		if baseCents < local.MinAmountCents {
			return 0, &promoError{"order amount below the promotion code minimum"}
		}
		return discountFor(baseCents, local.PercentOff, local.AmountOffCents), nil
	case err != sql.ErrNoRows:
		return 0, fmt.Errorf("promo lookup: %w", err)
	}

	// Not mirrored locally; ask the gateway.
	cb := GetBreaker("gateway")
	if !cb.Allow() {
		return 0, fmt.Errorf("gateway promo lookup: circuit open")
	}
	start := time.Now()
	pc, err := Gateway().LookupPromotionCode(ctx, code)
	RecordExternalOp("gateway_promo_lookup", time.Since(start), err == nil)
	if err != nil {
		cb.ReportFailure()
		return 0, fmt.Errorf("gateway promo lookup: %w", err)
	}
	cb.ReportSuccess()
	if pc == nil {
		return 0, &promoError{"unknown promotion code"}
	}
	if !pc.Active || !pc.Coupon.Valid {
		return 0, &promoError{"promotion code is no longer active"}
	}
	if pc.ExpiresAt > 0 && time.Now().After(time.Unix(pc.ExpiresAt, 0)) {
		return 0, &promoError{"promotion code has expired"}
	}
	if pc.MaxRedemptions > 0 && pc.TimesRedeemed >= pc.MaxRedemptions {
		return 0, &promoError{"promotion code has been fully redeemed"}
	}
	if pc.Restrictions.MinimumAmount > 0 && baseCents < pc.Restrictions.MinimumAmount {
		return 0, &promoError{"order amount below the promotion code minimum"}
	}
	var pctOff *int
	if pc.Coupon.PercentOff != nil {
		p := int(*pc.Coupon.PercentOff)
		pctOff = &p
	}
	return discountFor(baseCents, pctOff, pc.Coupon.AmountOff), nil
}

func discountFor(baseCents int64, percentOff *int, amountOff *int64) int64 {
	var d int64
	switch {
	case percentOff != nil:
		d = baseCents * int64(*percentOff) / 100
	case amountOff != nil:
		d = *amountOff
	}
	if d > baseCents {
		d = baseCents
	}
	if d < 0 {
		d = 0
	}
	return d
}

// CreatePaymentIntent handles POST /v1/sessions/:id/payment-intent.
// Validates the session is complete, prices the product server-side, applies
// an optional promotion code, and creates a gateway payment intent.
func CreatePaymentIntent(c *gin.Context) {
	s, ok := loadAuthorizedSession(c)
	if !ok {
		return
	}
	if s.Status != database.SessionDraft && s.Status != database.SessionPendingPayment {
		c.JSON(http.StatusConflict, gin.H{"error": "Session has already been paid"})
		return
	}
	if s.PhotoAssetID == nil || s.AudioAssetID == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Upload a photo and an audio clip before paying"})
		return
	}
	if s.Email == nil || *s.Email == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Set a delivery email before paying"})
		return
	}

	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	baseCents, ok2 := productPrices[req.ProductCode]
	if !ok2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown product code"})
		return
	}

	discount, err := validatePromoCode(c.Request.Context(), req.PromoCode, baseCents)
	if err != nil {
		if pe, ok3 := err.(*promoError); ok3 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": pe.reason})
			return
		}
		log.Printf("promo validation failed for session %s: %v", s.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not validate promotion code"})
		return
	}
	amount := baseCents - discount
	if amount < minChargeCents {
		amount = minChargeCents
	}

	// A retried checkout supersedes the previous pending order; cancel its
	// intent best-effort so it cannot be confirmed later.
	var prev database.Order
	err = database.DB.Get(&prev, `SELECT id, payment_intent_id FROM orders WHERE session_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT 1`,
		s.ID, database.OrderPendingPayment)
	if err == nil && prev.PaymentIntentID != "" {
		if _, cerr := Gateway().CancelPaymentIntent(c.Request.Context(), prev.PaymentIntentID); cerr != nil {
			log.Printf("cancel stale intent %s: %v", prev.PaymentIntentID, cerr)
		}
		_, _ = database.DB.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, database.OrderFailed, time.Now(), prev.ID)
	}

	orderID := uuid.New()
	cb := GetBreaker("gateway")
	if !cb.Allow() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment service temporarily unavailable"})
		return
	}
	start := time.Now()
	pi, err := Gateway().CreatePaymentIntent(c.Request.Context(), amount, currency(), map[string]string{
		"order_id":   orderID.String(),
		"session_id": s.ID.String(),
	}, orderID.String())
	RecordExternalOp("gateway_create_intent", time.Since(start), err == nil)
	if err != nil {
		cb.ReportFailure()
		log.Printf("create intent for session %s: %v", s.ID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway error"})
		return
	}
	cb.ReportSuccess()

	now := time.Now()
	order := database.Order{
		ID:              orderID,
		SessionID:       s.ID,
		ProductCode:     req.ProductCode,
		AmountCents:     amount,
		DiscountCents:   discount,
		Currency:        currency(),
		PaymentIntentID: pi.ID,
		Status:          database.OrderPendingPayment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.PromoCode != "" {
		code := strings.TrimSpace(req.PromoCode)
		order.PromoCode = &code
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
	insert := `INSERT INTO orders (id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, created_at, updated_at)
			   VALUES (:id, :session_id, :product_code, :amount_cents, :discount_cents, :currency, :promo_code, :payment_intent_id, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExec(insert, order); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record order"})
		return
	}
	if _, err = tx.Exec(`UPDATE sessions SET status=$1, updated_at=$2 WHERE id=$3`, database.SessionPendingPayment, now, s.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update session"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit order"})
		return
	}

	c.JSON(http.StatusCreated, CreateIntentResponse{
		OrderID:       orderID,
		ClientSecret:  pi.ClientSecret,
		AmountCents:   amount,
		DiscountCents: discount,
		Currency:      order.Currency,
	})
}
