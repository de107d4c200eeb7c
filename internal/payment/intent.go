package payment

import "context"

// PaymentIntent is the subset of the gateway's payment_intent object the
// backend consumes.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

// Intent statuses the backend cares about.
const (
	IntentSucceeded = "succeeded"
	IntentCanceled  = "canceled"
)

// CreatePaymentIntent creates a payment intent. amount is in the currency's
// minor unit. metadata should carry the order and session ids so webhook
// events can be correlated back.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string, idemKey string) (*PaymentIntent, error) {
	params := Params{
		"amount":                    amount,
		"currency":                  currency,
		"automatic_payment_methods": Params{"enabled": true},
	}
	if len(metadata) > 0 {
		params["metadata"] = metadata
	}
	resp, err := c.Post(ctx, "/v1/payment_intents", params, idemKey)
	if err != nil {
		return nil, err
	}
	var pi PaymentIntent
	if err := decode(resp, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// GetPaymentIntent retrieves a payment intent by id.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	resp, err := c.Get(ctx, "/v1/payment_intents/"+id, nil)
	if err != nil {
		return nil, err
	}
	var pi PaymentIntent
	if err := decode(resp, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// CancelPaymentIntent cancels an intent that has not yet succeeded.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	resp, err := c.Post(ctx, "/v1/payment_intents/"+id+"/cancel", Params{}, "")
	if err != nil {
		return nil, err
	}
	var pi PaymentIntent
	if err := decode(resp, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}
