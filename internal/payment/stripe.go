// internal/payment/stripe.go
package payment

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"freezy-bot/internal/models"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"
)

// Metadata keys attached to every checkout session.
const (
	MetaOfferID          = "offer_id"
	MetaBackendPaymentID = "backend_payment_intent"
)

var ErrWebhookSecretMissing = errors.New("webhook secret is not configured")

type StripeClient struct {
	secretKey     string
	publicKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	newSession    func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeClient(config struct {
	SecretKey  string
	PublicKey  string
	WebhookKey string
	SuccessURL string
	CancelURL  string
}) *StripeClient {
	stripe.Key = config.SecretKey

	return &StripeClient{
		secretKey:     config.SecretKey,
		publicKey:     config.PublicKey,
		webhookSecret: config.WebhookKey,
		successURL:    config.SuccessURL,
		cancelURL:     config.CancelURL,
		newSession:    session.New,
	}
}

func (s *StripeClient) GetWebhookSecret() string {
	return s.webhookSecret
}

// CheckoutRequest describes one offer purchase. Amount, currency and
// description come from the backend's payment intent.
type CheckoutRequest struct {
	TelegramID int64
	Offer      models.Offer
	Intent     models.PaymentIntent
	SuccessURL string
	CancelURL  string
}

// CheckoutParams builds the Stripe parameters for req.
func (s *StripeClient) CheckoutParams(req CheckoutRequest) (*stripe.CheckoutSessionParams, error) {
	if req.Intent.Amount <= 0 {
		return nil, fmt.Errorf("invalid amount %d for offer %s", req.Intent.Amount, req.Offer.ID)
	}
	currency := strings.ToLower(req.Intent.Currency)
	if currency == "" {
		currency = strings.ToLower(req.Offer.Currency)
	}
	if currency == "" {
		currency = "eur"
	}
	name := req.Offer.Name
	if name == "" {
		name = req.Intent.Description
	}
	successURL, cancelURL := req.SuccessURL, req.CancelURL
	if successURL == "" {
		successURL = s.successURL
	}
	if cancelURL == "" {
		cancelURL = s.cancelURL
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(req.Intent.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.TelegramID, 10)),
	}
	params.AddMetadata(MetaOfferID, req.Offer.ID.String())
	params.AddMetadata(MetaBackendPaymentID, req.Intent.PaymentIntentID)
	return params, nil
}

// CreateCheckoutSession returns the session ID and the hosted page URL.
func (s *StripeClient) CreateCheckoutSession(req CheckoutRequest) (string, string, error) {
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params, err := s.CheckoutParams(req)
	if err != nil {
		return "", "", err
	}
	sess, err := s.newSession(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess.ID, sess.URL, nil
}

func (s *StripeClient) VerifyWebhookSignature(payload []byte, sig string, webhookSecret string) (stripe.Event, error) {
	if webhookSecret == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}
	return webhook.ConstructEvent(payload, sig, webhookSecret)
}
