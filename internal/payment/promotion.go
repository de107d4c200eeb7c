package payment

import (
	"context"
	"fmt"
)

// Coupon is the discount attached to a promotion code. Exactly one of
// PercentOff and AmountOff is set by the gateway.
type Coupon struct {
	ID         string   `json:"id"`
	PercentOff *float64 `json:"percent_off"`
	AmountOff  *int64   `json:"amount_off"`
	Currency   string   `json:"currency"`
	Valid      bool     `json:"valid"`
}

// PromotionCode is the gateway representation of a customer-facing code.
type PromotionCode struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Active         bool   `json:"active"`
	ExpiresAt      int64  `json:"expires_at"` // unix, 0 = never
	MaxRedemptions int    `json:"max_redemptions"`
	TimesRedeemed  int    `json:"times_redeemed"`
	Coupon         Coupon `json:"coupon"`
	Restrictions   struct {
		MinimumAmount int64 `json:"minimum_amount"`
	} `json:"restrictions"`
}

type promotionCodeList struct {
	Data []PromotionCode `json:"data"`
}

// LookupPromotionCode finds a promotion code by its customer-facing code.
// Returns nil (no error) when the code does not exist at the gateway.
func (c *Client) LookupPromotionCode(ctx context.Context, code string) (*PromotionCode, error) {
	resp, err := c.Get(ctx, "/v1/promotion_codes", Params{"code": code, "limit": 1})
	if err != nil {
		return nil, err
	}
	var list promotionCodeList
	if err := decode(resp, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

// CreatePromotionCode creates a coupon and a promotion code on top of it.
// Used by the admin promo CRUD so the gateway and the local mirror agree.
func (c *Client) CreatePromotionCode(ctx context.Context, code string, percentOff *int, amountOffCents *int64, currency string, maxRedemptions *int, expiresAtUnix int64) (*PromotionCode, error) {
	coupon := Params{"duration": "once"}
	switch {
	case percentOff != nil:
		coupon["percent_off"] = *percentOff
	case amountOffCents != nil:
		coupon["amount_off"] = *amountOffCents
		coupon["currency"] = currency
	default:
		return nil, fmt.Errorf("promotion code needs percent_off or amount_off")
	}
	resp, err := c.Post(ctx, "/v1/coupons", coupon, "")
	if err != nil {
		return nil, err
	}
	var cp Coupon
	if err := decode(resp, &cp); err != nil {
		return nil, err
	}

	params := Params{"coupon": cp.ID, "code": code}
	if maxRedemptions != nil {
		params["max_redemptions"] = *maxRedemptions
	}
	if expiresAtUnix > 0 {
		params["expires_at"] = expiresAtUnix
	}
	resp, err = c.Post(ctx, "/v1/promotion_codes", params, "")
	if err != nil {
		return nil, err
	}
	var pc PromotionCode
	if err := decode(resp, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// DeactivatePromotionCode turns a code off at the gateway.
func (c *Client) DeactivatePromotionCode(ctx context.Context, id string) error {
	resp, err := c.Post(ctx, "/v1/promotion_codes/"+id, Params{"active": false}, "")
	if err != nil {
		return err
	}
	var pc PromotionCode
	return decode(resp, &pc)
}
