package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"freezy-bot/internal/api"
	"freezy-bot/internal/db"
	"freezy-bot/internal/models"
	"freezy-bot/internal/payment"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stripe/stripe-go/v72"
)

const maxWebhookBody = 64 << 10

func (t *TelegramBot) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		t.logger.Errorw("Failed to read webhook body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	webhookSecret := t.payments.GetWebhookSecret()
	if webhookSecret == "" {
		t.logger.Error("Webhook secret is not configured")
		http.Error(w, "Webhook not configured", http.StatusInternalServerError)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		t.logger.Warn("Missing Stripe signature header")
		http.Error(w, "Missing signature", http.StatusBadRequest)
		return
	}

	event, err := t.payments.VerifyWebhookSignature(body, signature, webhookSecret)
	if err != nil {
		t.logger.Warnw("Failed to verify webhook signature", "error", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			t.logger.Errorw("Failed to parse checkout session", "error", err)
			http.Error(w, "Failed to parse event data", http.StatusBadRequest)
			return
		}

		checkout, err := t.checkoutFor(r.Context(), &session)
		if err != nil {
			t.logger.Errorw("Unusable checkout session", "session_id", session.ID, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var providerIntent string
		if session.PaymentIntent != nil {
			providerIntent = session.PaymentIntent.ID
		}

		// Confirm in the background so Stripe gets its answer quickly.
		t.background.Add(1)
		go func() {
			defer t.background.Done()
			t.handlePaymentSuccess(checkout, providerIntent)
		}()
		t.logger.Infow("Payment processing started", "user_id", checkout.TelegramID, "session_id", session.ID)

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			t.logger.Errorw("Failed to parse checkout session", "error", err)
			break
		}
		if err := t.store.UpdateCheckoutStatus(r.Context(), session.ID, CheckoutExpired); err != nil {
			t.logger.Warnw("Failed to mark checkout expired", "session_id", session.ID, "error", err)
		}

	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			t.logger.Errorw("Failed to parse payment intent", "error", err)
			break
		}
		t.logger.Infow("Payment intent succeeded", "payment_id", intent.ID)

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			t.logger.Errorw("Failed to parse payment intent", "error", err)
			break
		}
		var reason string
		if intent.LastPaymentError != nil {
			reason = intent.LastPaymentError.Msg
		}
		t.logger.Warnw("Payment failed", "payment_id", intent.ID, "reason", reason)
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// checkoutFor finds the stored checkout of a completed session, or
// rebuilds it from the session metadata when the row is missing.
func (t *TelegramBot) checkoutFor(ctx context.Context, session *stripe.CheckoutSession) (*models.Checkout, error) {
	checkout, err := t.store.GetCheckout(ctx, session.ID)
	if err == nil {
		return checkout, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		t.logger.Warnw("Failed to load checkout, using session metadata", "session_id", session.ID, "error", err)
	}

	if session.ClientReferenceID == "" {
		return nil, errors.New("missing client reference ID")
	}
	userID, err := strconv.ParseInt(session.ClientReferenceID, 10, 64)
	if err != nil {
		return nil, errors.New("invalid client reference ID")
	}
	offerID := session.Metadata[payment.MetaOfferID]
	if offerID == "" {
		return nil, errors.New("missing offer metadata")
	}
	return &models.Checkout{
		StripeSessionID:  session.ID,
		TelegramID:       userID,
		OfferID:          offerID,
		BackendPaymentID: session.Metadata[payment.MetaBackendPaymentID],
		Amount:           session.AmountTotal,
		Currency:         string(session.Currency),
		Status:           CheckoutPending,
	}, nil
}

// handlePaymentSuccess confirms a settled checkout to the backend with the
// user's stored token and tells the user.
func (t *TelegramBot) handlePaymentSuccess(checkout *models.Checkout, providerIntent string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	userID := checkout.TelegramID
	log := t.logger.With("user_id", userID, "session_id", checkout.StripeSessionID)

	if checkout.Status == CheckoutCompleted {
		log.Info("Checkout already confirmed")
		return
	}

	s, ok := t.currentSession(ctx, userID)
	if !ok {
		log.Warn("No usable session to confirm payment")
		t.setCheckoutStatus(ctx, checkout.StripeSessionID, CheckoutConfirmFailed)
		t.notify(userID, "Paiement reçu, mais votre session a expiré. Reconnectez-vous avec /login et contactez-nous si votre abonnement n'apparaît pas.")
		return
	}

	err := t.backend.ConfirmPayment(ctx, s.Token, models.PaymentConfirmation{
		PaymentIntentID:       checkout.BackendPaymentID,
		OfferID:               checkout.OfferID,
		ProviderPaymentIntent: providerIntent,
		CheckoutSessionID:     checkout.StripeSessionID,
	})
	if err != nil {
		log.Errorw("Failed to confirm payment", "error", err)
		t.setCheckoutStatus(ctx, checkout.StripeSessionID, CheckoutConfirmFailed)
		t.notify(userID, "Paiement reçu, mais sa confirmation a échoué : "+api.UserMessage(err))
		return
	}

	t.setCheckoutStatus(ctx, checkout.StripeSessionID, CheckoutCompleted)
	t.dropScreen(userID)
	log.Infow("Payment confirmed", "offer_id", checkout.OfferID)

	t.notify(userID, "🎉 Paiement confirmé ! Votre abonnement est actif.\nPrenez rendez-vous avec /rdv.")
}

func (t *TelegramBot) setCheckoutStatus(ctx context.Context, sessionID, status string) {
	if err := t.store.UpdateCheckoutStatus(ctx, sessionID, status); err != nil {
		t.logger.Errorw("Failed to update checkout status", "session_id", sessionID, "status", status, "error", err)
	}
}

// notify messages a user outside of any update. Private chats share the
// user's id.
func (t *TelegramBot) notify(userID int64, text string) {
	chatID := userID
	t.stateMutex.RLock()
	if state, ok := t.userStates[userID]; ok && state.ChatID != 0 {
		chatID = state.ChatID
	}
	t.stateMutex.RUnlock()
	t.send(tgbotapi.NewMessage(chatID, text))
}
