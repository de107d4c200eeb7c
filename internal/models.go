package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session lifecycle states. A session starts as a draft, becomes
// pending_payment when an intent is created, paid on webhook confirmation,
// and fulfilled once the poster has been rendered and emailed.
const (
	SessionDraft          = "draft"
	SessionPendingPayment = "pending_payment"
	SessionPaid           = "paid"
	SessionFulfilled      = "fulfilled"
	SessionExpired        = "expired"
)

// Order states.
const (
	OrderPendingPayment = "pending_payment"
	OrderPaid           = "paid"
	OrderFailed         = "failed"
	OrderFulfilled      = "fulfilled"
)

// Asset kinds.
const (
	AssetPhoto = "photo"
	AssetAudio = "audio"
)

// Session represents the 'sessions' table: one anonymous poster-in-progress.
type Session struct {
	ID            uuid.UUID       `db:"id"`
	Status        string          `db:"status"`
	EditTokenHash string          `db:"edit_token_hash"` // bcrypt of the caller-held edit token
	Layout        json.RawMessage `db:"layout"`
	Email         *string         `db:"email"`
	PhotoAssetID  *uuid.UUID      `db:"photo_asset_id"`
	AudioAssetID  *uuid.UUID      `db:"audio_asset_id"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	ExpiresAt     time.Time       `db:"expires_at"`
}

// Asset represents the 'assets' table: an uploaded photo or audio clip.
type Asset struct {
	ID         uuid.UUID `db:"id"`
	SessionID  uuid.UUID `db:"session_id"`
	Kind       string    `db:"kind"`
	Mime       string    `db:"mime"`
	Bytes      int64     `db:"bytes"`
	SHA256     string    `db:"sha256"`
	Path       string    `db:"path"`
	DurationMS *int64    `db:"duration_ms"` // audio only
	CreatedAt  time.Time `db:"created_at"`
}

// Order represents the 'orders' table.
type Order struct {
	ID              uuid.UUID  `db:"id"`
	SessionID       uuid.UUID  `db:"session_id"`
	ProductCode     string     `db:"product_code"`
	AmountCents     int64      `db:"amount_cents"`
	DiscountCents   int64      `db:"discount_cents"`
	Currency        string     `db:"currency"`
	PromoCode       *string    `db:"promo_code"`
	PaymentIntentID string     `db:"payment_intent_id"`
	Status          string     `db:"status"`
	ArtifactPath    *string    `db:"artifact_path"`
	FulfilledAt     *time.Time `db:"fulfilled_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// PromoCode represents the 'promo_codes' table. Exactly one of PercentOff or
// AmountOffCents is set.
type PromoCode struct {
	ID             uuid.UUID  `db:"id"`
	Code           string     `db:"code"`
	GatewayID      *string    `db:"gateway_id"`
	PercentOff     *int       `db:"percent_off"`
	AmountOffCents *int64     `db:"amount_off_cents"`
	MinAmountCents int64      `db:"min_amount_cents"`
	MaxRedemptions *int       `db:"max_redemptions"`
	TimesRedeemed  int        `db:"times_redeemed"`
	Active         bool       `db:"active"`
	ExpiresAt      *time.Time `db:"expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// AdminUser represents the 'admin_users' table.
type AdminUser struct {
	ID             uuid.UUID `db:"id"`
	Email          string    `db:"email"`
	FullName       string    `db:"full_name"`
	HashedPassword string    `db:"hashed_password"`
	Role           string    `db:"role"` // "admin" or "support"
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// ProcessedEvent represents the 'processed_events' table used to make the
// payment webhook idempotent per gateway event id.
type ProcessedEvent struct {
	EventID    string    `db:"event_id"`
	ReceivedAt time.Time `db:"received_at"`
}

// EmailLog represents the 'email_log' table.
type EmailLog struct {
	ID      int64     `db:"id"` // bigserial
	OrderID uuid.UUID `db:"order_id"`
	ToEmail string    `db:"to_email"`
	Kind    string    `db:"kind"` // e.g. "artifact", "receipt"
	Status  string    `db:"status"`
	Error   *string   `db:"error"`
	SentAt  time.Time `db:"sent_at"`
}
