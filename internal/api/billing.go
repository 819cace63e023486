package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"freezy-bot/internal/models"
)

// ListOffers works with or without a token.
func (c *Client) ListOffers(ctx context.Context, token string) ([]models.Offer, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "list_offers", http.MethodGet, "/offres", token, false, nil, &raw); err != nil {
		return nil, err
	}
	return listOf[models.Offer](c, "list_offers", raw), nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, token, offerID string) (*models.PaymentIntent, error) {
	body := map[string]string{"offreId": offerID}
	var intent models.PaymentIntent
	if err := c.call(ctx, "create_payment_intent", http.MethodPost, "/payments/create-payment-intent", token, true, body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, token string, conf models.PaymentConfirmation) error {
	return c.call(ctx, "confirm_payment", http.MethodPost, "/payments/confirm", token, true, conf, nil)
}

func (c *Client) PaymentHistory(ctx context.Context, token string) ([]models.Payment, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "payment_history", http.MethodGet, "/payments/history", token, true, nil, &raw); err != nil {
		return nil, err
	}
	return listOf[models.Payment](c, "payment_history", raw), nil
}

func (c *Client) ActiveSubscriptions(ctx context.Context, token string) ([]models.SubscriptionRecord, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "active_subscriptions", http.MethodGet, "/subscriptions/active", token, true, nil, &raw); err != nil {
		return nil, err
	}
	return listOf[models.SubscriptionRecord](c, "active_subscriptions", raw), nil
}

func (c *Client) CancelSubscription(ctx context.Context, token, subscriptionID string) error {
	path := "/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	return c.call(ctx, "cancel_subscription", http.MethodPost, path, token, true, nil, nil)
}
