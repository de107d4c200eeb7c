package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CreateSessionResponse returns the session id plus the one-time edit token.
// The token is only ever shown here; the backend stores a bcrypt hash.
type CreateSessionResponse struct {
	ID        uuid.UUID `json:"id"`
	EditToken string    `json:"edit_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UpdateSessionRequest carries layout customization and the recipient email.
type UpdateSessionRequest struct {
	Layout json.RawMessage `json:"layout,omitempty"`
	Email  *string         `json:"email,omitempty" binding:"omitempty,email"`
}

// AssetInfo is the public view of an uploaded file.
type AssetInfo struct {
	ID         uuid.UUID `json:"id"`
	Kind       string    `json:"kind"`
	Mime       string    `json:"mime"`
	Bytes      int64     `json:"bytes"`
	DurationMS *int64    `json:"duration_ms,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// SessionResponse is the public view of a poster session.
type SessionResponse struct {
	ID        uuid.UUID       `json:"id"`
	Status    string          `json:"status"`
	Layout    json.RawMessage `json:"layout"`
	Email     *string         `json:"email,omitempty"`
	Photo     *AssetInfo      `json:"photo,omitempty"`
	Audio     *AssetInfo      `json:"audio,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// CreateIntentRequest selects the product and an optional promotion code.
type CreateIntentRequest struct {
	ProductCode string `json:"product_code" binding:"required"`
	PromoCode   string `json:"promo_code,omitempty"`
}

// CreateIntentResponse carries what the frontend needs to confirm payment.
type CreateIntentResponse struct {
	OrderID       uuid.UUID `json:"order_id"`
	ClientSecret  string    `json:"client_secret"`
	AmountCents   int64     `json:"amount_cents"`
	DiscountCents int64     `json:"discount_cents"`
	Currency      string    `json:"currency"`
}

// AdminLoginRequest is the admin credential payload.
type AdminLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UpdatePasswordRequest changes the calling admin's password.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=10"`
}

// CreatePromoRequest defines a new promotion code. Exactly one of PercentOff
// and AmountOffCents must be set.
type CreatePromoRequest struct {
	Code           string     `json:"code" binding:"required"`
	PercentOff     *int       `json:"percent_off,omitempty"`
	AmountOffCents *int64     `json:"amount_off_cents,omitempty"`
	MinAmountCents int64      `json:"min_amount_cents,omitempty"`
	MaxRedemptions *int       `json:"max_redemptions,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// OrderResponse is the admin view of an order.
type OrderResponse struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	ProductCode     string     `json:"product_code"`
	AmountCents     int64      `json:"amount_cents"`
	DiscountCents   int64      `json:"discount_cents"`
	Currency        string     `json:"currency"`
	PromoCode       *string    `json:"promo_code,omitempty"`
	PaymentIntentID string     `json:"payment_intent_id"`
	Status          string     `json:"status"`
	FulfilledAt     *time.Time `json:"fulfilled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
