package bot

import (
	"context"
	"fmt"
	"strings"

	"freezy-bot/internal/booking"
	"freezy-bot/internal/models"
	"freezy-bot/internal/payment"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Checkout statuses kept in the store.
const (
	CheckoutPending       = "pending"
	CheckoutCompleted     = "completed"
	CheckoutCancelled     = "cancelled"
	CheckoutExpired       = "expired"
	CheckoutConfirmFailed = "confirm_failed"
)

func (t *TelegramBot) showOffers(ctx context.Context, chatID, userID int64) {
	var token string
	if s, ok := t.currentSession(ctx, userID); ok {
		token = s.Token
	}

	offers, err := t.backend.ListOffers(ctx, token)
	if err != nil {
		t.logger.Warnw("Failed to list offers", "user_id", userID, "error", err)
		t.alert(chatID, err)
		return
	}
	if len(offers) == 0 {
		t.reply(chatID, "Aucune offre disponible pour le moment.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, offersText(offers))
	if token != "" {
		msg.ReplyMarkup = offersKeyboard(offers)
	} else {
		msg.Text += "\nConnectez-vous avec /login pour souscrire."
	}
	t.send(msg)
}

func offersText(offers []models.Offer) string {
	var b strings.Builder
	b.WriteString("💼 Nos offres\n")
	for _, o := range offers {
		fmt.Fprintf(&b, "\n• %s : %s\n", o.Name, formatPrice(o.Price, o.Currency))
		if o.Description != "" {
			b.WriteString("  " + o.Description + "\n")
		}
		if o.Interventions > 0 {
			fmt.Fprintf(&b, "  %d interventions", o.Interventions)
			if o.DurationDays > 0 {
				fmt.Fprintf(&b, " sur %d jours", o.DurationDays)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (t *TelegramBot) handleOfferCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, action, offerID string) {
	t.answer(cq, "")
	if action != "buy" {
		return
	}
	t.buyOffer(ctx, cq.Message.Chat.ID, cq.From.ID, offerID)
}

// buyOffer asks the backend for a payment intent and hands the user a
// hosted checkout link for it.
func (t *TelegramBot) buyOffer(ctx context.Context, chatID, userID int64, offerID string) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}

	offers, err := t.backend.ListOffers(ctx, s.Token)
	if err != nil {
		t.alert(chatID, err)
		return
	}
	var offer models.Offer
	for _, o := range offers {
		if string(o.ID) == offerID {
			offer = o
			break
		}
	}
	if offer.ID == "" {
		t.reply(chatID, "Cette offre n'est plus disponible.")
		return
	}

	intent, err := t.backend.CreatePaymentIntent(ctx, s.Token, offer.ID.String())
	if err != nil {
		t.logger.Warnw("Failed to create payment intent", "user_id", userID, "offer_id", offer.ID, "error", err)
		t.alert(chatID, err)
		return
	}

	sessionID, checkoutURL, err := t.payments.CreateCheckoutSession(payment.CheckoutRequest{
		TelegramID: userID,
		Offer:      offer,
		Intent:     *intent,
		SuccessURL: t.botLink("payment_success"),
		CancelURL:  t.botLink("payment_cancel"),
	})
	if err != nil {
		t.logger.Errorw("Failed to create Stripe session", "user_id", userID, "offer_id", offer.ID, "error", err)
		t.reply(chatID, "Impossible de créer la session de paiement. Veuillez réessayer plus tard.")
		return
	}

	checkout := &models.Checkout{
		StripeSessionID:  sessionID,
		TelegramID:       userID,
		OfferID:          offer.ID.String(),
		BackendPaymentID: intent.PaymentIntentID,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		Status:           CheckoutPending,
	}
	if err := t.store.SaveCheckout(ctx, checkout); err != nil {
		// The webhook can still confirm from the session metadata.
		t.logger.Errorw("Failed to save checkout", "user_id", userID, "session_id", sessionID, "error", err)
	}

	state := t.state(userID, chatID)
	t.stateMutex.Lock()
	state.LastCheckoutID = sessionID
	t.stateMutex.Unlock()

	t.logger.Infow("Checkout created", "user_id", userID, "offer_id", offer.ID, "session_id", sessionID)

	description := intent.Description
	if description == "" {
		description = offer.Name
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("%s\nMontant : %s\n\nAppuyez sur le bouton ci-dessous pour payer :",
		description, formatMinor(intent.Amount, intent.Currency)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("💳 Payer", checkoutURL),
		),
	)
	t.send(msg)
}

// cancelPendingCheckout marks the user's last checkout cancelled after the
// payment page sent them back.
func (t *TelegramBot) cancelPendingCheckout(ctx context.Context, userID int64) {
	state := t.state(userID, 0)
	t.stateMutex.Lock()
	sessionID := state.LastCheckoutID
	state.LastCheckoutID = ""
	t.stateMutex.Unlock()

	if sessionID == "" {
		return
	}
	if err := t.store.UpdateCheckoutStatus(ctx, sessionID, CheckoutCancelled); err != nil {
		t.logger.Warnw("Failed to mark checkout cancelled", "session_id", sessionID, "error", err)
	}
}

func (t *TelegramBot) showSubscription(ctx context.Context, chatID, userID int64) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}

	elig, err := booking.CheckEligibility(ctx, t.backend, s.Token, t.now())
	if err != nil {
		t.logger.Warnw("Subscription check failed", "user_id", userID, "error", err)
		t.alert(chatID, err)
		return
	}
	if !elig.Active {
		t.reply(chatID, "Vous n'avez pas d'abonnement actif.\nConsultez les offres avec /offres.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, subscriptionText(*elig.Record))
	if elig.Source == booking.SourceSubscriptions && elig.Record.ID != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Résilier l'abonnement", callbackData(cbSubscription, "ask", elig.Record.ID.String())),
			),
		)
	}
	t.send(msg)
}

func subscriptionText(r models.SubscriptionRecord) string {
	var b strings.Builder
	b.WriteString("✅ Abonnement actif\n\n")
	if r.DateDebut != "" {
		fmt.Fprintf(&b, "Début : %s\n", models.DateKey(r.DateDebut))
	}
	if end := r.EndDate(); end != "" {
		fmt.Fprintf(&b, "Fin : %s\n", models.DateKey(end))
	}
	if r.IsCanceled {
		b.WriteString("Résilié, actif jusqu'à la fin de la période.\n")
	}
	return b.String()
}

func (t *TelegramBot) handleSubscriptionCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, action, id string) {
	t.answer(cq, "")
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID

	switch action {
	case "ask":
		msg := tgbotapi.NewMessage(chatID, "Voulez-vous vraiment résilier votre abonnement ?")
		msg.ReplyMarkup = confirmKeyboard(cbSubscription, "cancel", id)
		t.send(msg)

	case "cancel":
		s, ok := t.requireSession(ctx, chatID, userID)
		if !ok {
			return
		}
		if err := t.backend.CancelSubscription(ctx, s.Token, id); err != nil {
			t.logger.Warnw("Subscription cancellation failed", "user_id", userID, "subscription_id", id, "error", err)
			t.alert(chatID, err)
			return
		}
		t.logger.Infow("Subscription cancelled", "user_id", userID, "subscription_id", id)
		t.dropScreen(userID)
		t.send(tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, "Votre abonnement a été résilié."))

	case "keep":
		t.send(tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, "Votre abonnement est conservé."))
	}
}

func (t *TelegramBot) showHistory(ctx context.Context, chatID, userID int64) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}
	payments, err := t.backend.PaymentHistory(ctx, s.Token)
	if err != nil {
		t.alert(chatID, err)
		return
	}
	t.reply(chatID, historyText(payments))
}

func historyText(payments []models.Payment) string {
	if len(payments) == 0 {
		return "Aucun paiement pour le moment."
	}
	var b strings.Builder
	b.WriteString("🧾 Historique des paiements\n")
	for _, p := range payments {
		date := models.DateKey(p.CreatedAt)
		if date == "" {
			date = models.DateKey(p.DateDebut)
		}
		label := p.Description
		if label == "" {
			label = "Abonnement"
		}
		fmt.Fprintf(&b, "\n• %s : %s, %s (%s)", orDash(date), label, formatPrice(p.Amount, p.Currency), orDash(p.Status))
	}
	return b.String()
}
