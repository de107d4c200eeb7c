package api

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

// AdminLogin verifies credentials and issues a JWT.
// POST /admin/login
func AdminLogin(c *gin.Context) {
	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var admin database.AdminUser
	query := `SELECT id, email, full_name, hashed_password, role, created_at, updated_at FROM admin_users WHERE lower(email)=lower($1)`
	err := database.DB.Get(&admin, query, req.Email)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !utils.CheckPasswordHash(req.Password, admin.HashedPassword)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	token, err := utils.GenerateJWT(admin.ID, admin.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "role": admin.Role})
}

// UpdateAdminPassword changes the calling admin's password after re-verifying
// the current one.
// PUT /admin/password
func UpdateAdminPassword(c *gin.Context) {
	adminID, err := uuid.Parse(c.GetString("adminID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var admin database.AdminUser
	if err := database.DB.Get(&admin, `SELECT id, email, full_name, hashed_password, role, created_at, updated_at FROM admin_users WHERE id=$1`, adminID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Admin not found"})
		return
	}
	if !utils.CheckPasswordHash(req.CurrentPassword, admin.HashedPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		return
	}
	if ok, reason := utils.ValidatePasswordPolicy(req.NewPassword, admin.Email); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": reason})
		return
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}
	if _, err := database.DB.Exec(`UPDATE admin_users SET hashed_password=$1, updated_at=$2 WHERE id=$3`, hashed, time.Now(), adminID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
}

func paginate(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// ListOrders returns orders newest-first, optionally filtered by status.
// GET /admin/orders?status=paid&limit=50&offset=0
func ListOrders(c *gin.Context) {
	limit, offset := paginate(c)

	query := `SELECT id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, artifact_path, fulfilled_at, created_at, updated_at
			  FROM orders`
	args := []interface{}{}
	if status := c.Query("status"); status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)

	var orders []database.Order
	if err := database.DB.Select(&orders, query, args...); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list orders"})
		return
	}

	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderResponse{
			ID:              o.ID,
			SessionID:       o.SessionID,
			ProductCode:     o.ProductCode,
			AmountCents:     o.AmountCents,
			DiscountCents:   o.DiscountCents,
			Currency:        o.Currency,
			PromoCode:       o.PromoCode,
			PaymentIntentID: o.PaymentIntentID,
			Status:          o.Status,
			FulfilledAt:     o.FulfilledAt,
			CreatedAt:       o.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "limit": limit, "offset": offset})
}

// ListSessions returns sessions newest-first, optionally filtered by status.
// GET /admin/sessions
func ListSessions(c *gin.Context) {
	limit, offset := paginate(c)

	query := `SELECT id, status, edit_token_hash, layout, email, photo_asset_id, audio_asset_id, created_at, updated_at, expires_at
			  FROM sessions`
	args := []interface{}{}
	if status := c.Query("status"); status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)

	var sessions []database.Session
	if err := database.DB.Select(&sessions, query, args...); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ID:        s.ID,
			Status:    s.Status,
			Layout:    s.Layout,
			Email:     s.Email,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "limit": limit, "offset": offset})
}

// ResendOrder re-runs fulfillment for a paid or fulfilled order. Useful when
// the email bounced or the customer lost the download link.
// POST /admin/orders/:orderId/resend
func ResendOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var order database.Order
	q := `SELECT id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, artifact_path, fulfilled_at, created_at, updated_at
		  FROM orders WHERE id=$1`
	if err := database.DB.Get(&order, q, orderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if order.Status != database.OrderPaid && order.Status != database.OrderFulfilled {
		c.JSON(http.StatusConflict, gin.H{"error": "Order is not paid"})
		return
	}

	// Reset to paid so RenderOrder runs the full pipeline again.
	if order.Status == database.OrderFulfilled {
		if _, err := database.DB.Exec(`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, database.OrderPaid, time.Now(), orderID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset order"})
			return
		}
	}

	if err := EnqueueRender(orderID); err != nil {
		go func() {
			if err := RenderOrder(context.Background(), orderID); err != nil {
				log.Printf("admin resend %s: %v", orderID, err)
			}
		}()
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Render queued", "order_id": orderID})
}

// MintDownloadLink issues a fresh signed download link for a fulfilled order.
// POST /admin/orders/:orderId/download-link
func MintDownloadLink(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var order database.Order
	q := `SELECT id, session_id, product_code, amount_cents, discount_cents, currency, promo_code, payment_intent_id, status, artifact_path, fulfilled_at, created_at, updated_at
		  FROM orders WHERE id=$1`
	if err := database.DB.Get(&order, q, orderID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if order.Status != database.OrderFulfilled || order.ArtifactPath == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Poster is not ready yet"})
		return
	}

	expires := time.Now().Add(7 * 24 * time.Hour)
	url, err := SignedDownloadURL(orderID, expires)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Link signing is not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_at": expires,
	})
}

// CreatePromo registers a promotion code at the gateway and mirrors it
// locally so intent creation can validate without a network round trip.
// POST /admin/promos
func CreatePromo(c *gin.Context) {
	var req CreatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (req.PercentOff == nil) == (req.AmountOffCents == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Set exactly one of percent_off or amount_off_cents"})
		return
	}
	if req.PercentOff != nil && (*req.PercentOff < 1 || *req.PercentOff > 100) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "percent_off must be between 1 and 100"})
		return
	}

	var expiresUnix int64
	if req.ExpiresAt != nil {
		expiresUnix = req.ExpiresAt.Unix()
	}

	var gatewayID *string
	br := GetBreaker("gateway")
	if br.Allow() {
		start := time.Now()
		pc, err := Gateway().CreatePromotionCode(c.Request.Context(), req.Code, req.PercentOff, req.AmountOffCents, currency(), req.MaxRedemptions, expiresUnix)
		RecordExternalOp("gateway_promo_create", time.Since(start), err == nil)
		if err != nil {
			br.ReportFailure()
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway rejected the promotion code"})
			return
		}
		br.ReportSuccess()
		gatewayID = &pc.ID
	} else {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment gateway temporarily unavailable"})
		return
	}

	promo := database.PromoCode{
		ID:             uuid.New(),
		Code:           req.Code,
		GatewayID:      gatewayID,
		PercentOff:     req.PercentOff,
		AmountOffCents: req.AmountOffCents,
		MinAmountCents: req.MinAmountCents,
		MaxRedemptions: req.MaxRedemptions,
		Active:         true,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      time.Now(),
	}
	query := `INSERT INTO promo_codes (id, code, gateway_id, percent_off, amount_off_cents, min_amount_cents, max_redemptions, times_redeemed, active, expires_at, created_at)
			  VALUES (:id, :code, :gateway_id, :percent_off, :amount_off_cents, :min_amount_cents, :max_redemptions, 0, :active, :expires_at, :created_at)`
	if _, err := database.DB.NamedExec(query, promo); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Promotion code already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": promo.ID, "code": promo.Code})
}

// ListPromos returns all promotion codes, active first.
// GET /admin/promos
func ListPromos(c *gin.Context) {
	var promos []database.PromoCode
	query := `SELECT id, code, gateway_id, percent_off, amount_off_cents, min_amount_cents, max_redemptions, times_redeemed, active, expires_at, created_at
			  FROM promo_codes ORDER BY active DESC, created_at DESC`
	if err := database.DB.Select(&promos, query); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list promotion codes"})
		return
	}

	type promoView struct {
		ID             uuid.UUID  `json:"id"`
		Code           string     `json:"code"`
		PercentOff     *int       `json:"percent_off,omitempty"`
		AmountOffCents *int64     `json:"amount_off_cents,omitempty"`
		MinAmountCents int64      `json:"min_amount_cents"`
		MaxRedemptions *int       `json:"max_redemptions,omitempty"`
		TimesRedeemed  int        `json:"times_redeemed"`
		Active         bool       `json:"active"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	}
	out := make([]promoView, 0, len(promos))
	for _, p := range promos {
		out = append(out, promoView{
			ID: p.ID, Code: p.Code, PercentOff: p.PercentOff, AmountOffCents: p.AmountOffCents,
			MinAmountCents: p.MinAmountCents, MaxRedemptions: p.MaxRedemptions,
			TimesRedeemed: p.TimesRedeemed, Active: p.Active, ExpiresAt: p.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"promos": out})
}

// DeactivatePromo disables a code locally and at the gateway.
// DELETE /admin/promos/:promoId
func DeactivatePromo(c *gin.Context) {
	promoID, err := uuid.Parse(c.Param("promoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid promo ID"})
		return
	}

	var promo database.PromoCode
	query := `SELECT id, code, gateway_id, percent_off, amount_off_cents, min_amount_cents, max_redemptions, times_redeemed, active, expires_at, created_at
			  FROM promo_codes WHERE id=$1`
	if err := database.DB.Get(&promo, query, promoID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Promotion code not found"})
		return
	}

	if _, err := database.DB.Exec(`UPDATE promo_codes SET active=false WHERE id=$1`, promoID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate"})
		return
	}

	if promo.GatewayID != nil {
		start := time.Now()
		err := Gateway().DeactivatePromotionCode(c.Request.Context(), *promo.GatewayID)
		RecordExternalOp("gateway_promo_deactivate", time.Since(start), err == nil)
		if err != nil {
			// Local state already flipped; intent creation rejects the code
			// even if the gateway call failed.
			log.Printf("gateway deactivate %s: %v", promo.Code, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Promotion code deactivated"})
}

// TestSMTP sends a throwaway email to verify mail configuration.
// POST /admin/smtp/test
func TestSMTP(c *gin.Context) {
	var req struct {
		To string `json:"to" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := SendTestEmail(req.To); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test email sent", "to": req.To})
}

// AdminHealth reports DB and queue connectivity for the admin dashboard.
// GET /admin/health
func AdminHealth(c *gin.Context) {
	out := gin.H{"status": "ok"}
	if err := database.DB.Ping(); err != nil {
		out["status"] = "degraded"
		out["database"] = err.Error()
	} else {
		out["database"] = "ok"
	}
	if redisClient != nil {
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			out["status"] = "degraded"
			out["queue"] = err.Error()
		} else {
			out["queue"] = "ok"
		}
	} else {
		out["queue"] = "disabled"
	}
	c.JSON(http.StatusOK, out)
}

// QueueDrain toggles drain mode: readers stop consuming new render jobs while
// the reclaimer finishes pending ones. Used before deploys.
// POST /admin/queue/drain  body: {"enabled": true}
func QueueDrain(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	drainMode = req.Enabled
	if !req.Enabled {
		drainedComplete = false
		drainZeroPendingTicks = 0
	}
	c.JSON(http.StatusOK, gin.H{"drain": drainMode})
}

// QueueDrainStatus reports drain progress.
// GET /admin/queue/drain
func QueueDrainStatus(c *gin.Context) {
	out := gin.H{"drain": drainMode, "complete": drainedComplete}
	if redisClient != nil {
		if p, err := redisClient.XPending(c.Request.Context(), renderStream, renderGroup).Result(); err == nil && p != nil {
			out["pending"] = p.Count
		}
	}
	c.JSON(http.StatusOK, out)
}

// ListDLQ returns render jobs that exhausted their redelivery attempts.
// GET /admin/queue/dlq
func ListDLQ(c *gin.Context) {
	if redisClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue is disabled"})
		return
	}
	msgs, err := redisClient.XRange(c.Request.Context(), renderDLQStream, "-", "+").Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read DLQ"})
		return
	}

	type dlqEntry struct {
		ID      string `json:"id"`
		Payload string `json:"payload"`
		Reason  string `json:"reason,omitempty"`
	}
	out := make([]dlqEntry, 0, len(msgs))
	for _, m := range msgs {
		e := dlqEntry{ID: m.ID}
		if v, ok := m.Values["payload"].(string); ok {
			e.Payload = v
		}
		if v, ok := m.Values["reason"].(string); ok {
			e.Reason = v
		}
		out = append(out, e)
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

// RequeueDLQ moves one DLQ entry back onto the render stream.
// POST /admin/queue/dlq/:entryId/requeue
func RequeueDLQ(c *gin.Context) {
	if redisClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue is disabled"})
		return
	}
	entryID := c.Param("entryId")
	msgs, err := redisClient.XRange(c.Request.Context(), renderDLQStream, entryID, entryID).Result()
	if err != nil || len(msgs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "DLQ entry not found"})
		return
	}

	payload, _ := msgs[0].Values["payload"].(string)
	if err := redisClient.XAdd(c.Request.Context(), &redis.XAddArgs{
		Stream: renderStream,
		Values: map[string]interface{}{"payload": payload},
	}).Err(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to requeue"})
		return
	}
	if err := redisClient.XDel(c.Request.Context(), renderDLQStream, entryID).Err(); err != nil {
		log.Printf("dlq requeue: delete %s: %v", entryID, err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Requeued", "id": entryID})
}

// DeleteDLQ discards a DLQ entry.
// DELETE /admin/queue/dlq/:entryId
func DeleteDLQ(c *gin.Context) {
	if redisClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Queue is disabled"})
		return
	}
	entryID := c.Param("entryId")
	n, err := redisClient.XDel(c.Request.Context(), renderDLQStream, entryID).Result()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete"})
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "DLQ entry not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deleted", "id": entryID})
}
