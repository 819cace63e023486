// internal/models/subscription.go
package models

import "time"

// SubscriptionRecord is the client-side copy of a subscription. The
// backend owns it; the client only reads it.
type SubscriptionRecord struct {
	ID                  ID      `json:"id"`
	Status              string  `json:"status"`
	IsActive            bool    `json:"isActive"`
	IsCanceled          bool    `json:"isCanceled"`
	DateDebut           string  `json:"dateDebut,omitempty"`
	DateFin             string  `json:"dateFin,omitempty"`
	SubscriptionEndDate string  `json:"subscriptionEndDate,omitempty"`
	OfferID             string  `json:"offreId,omitempty"`
	Amount              float64 `json:"amount,omitempty"`
}

// EndDate returns the raw end date, preferring dateFin.
func (s SubscriptionRecord) EndDate() string {
	if s.DateFin != "" {
		return s.DateFin
	}
	return s.SubscriptionEndDate
}

// Payment is a billing-history line. It doubles as a subscription proxy
// for the eligibility check.
type Payment struct {
	SubscriptionRecord
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Description     string `json:"description,omitempty"`
	Nom             string `json:"nom,omitempty"`
	Prenom          string `json:"prenom,omitempty"`
	Entreprise      string `json:"entreprise,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

// Offer is a purchasable subscription plan.
type Offer struct {
	ID            ID      `json:"id"`
	Name          string  `json:"nom"`
	Description   string  `json:"description"`
	Price         float64 `json:"prix"`
	Currency      string  `json:"currency"`
	Interventions int     `json:"interventions"`
	DurationDays  int     `json:"dureeJours"`
}

// PaymentIntent is the backend's answer to a purchase request. Amount is
// in the currency's minor unit.
type PaymentIntent struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Description     string `json:"description"`
}

// PaymentConfirmation tells the backend that the hosted checkout settled.
type PaymentConfirmation struct {
	PaymentIntentID       string `json:"paymentIntentId"`
	OfferID               string `json:"offreId"`
	ProviderPaymentIntent string `json:"stripePaymentIntentId,omitempty"`
	CheckoutSessionID     string `json:"checkoutSessionId,omitempty"`
}

// Checkout tracks one hosted checkout between creation and webhook.
type Checkout struct {
	ID               int64     `json:"id"`
	StripeSessionID  string    `json:"stripe_session_id"`
	TelegramID       int64     `json:"telegram_id"`
	OfferID          string    `json:"offer_id"`
	BackendPaymentID string    `json:"backend_payment_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
