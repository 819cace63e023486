package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"freezy-bot/internal/api"
	"freezy-bot/internal/booking"
	"freezy-bot/internal/db"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// screen returns the user's booking screen, building and loading a new
// one when none exists yet or the session token changed.
func (t *TelegramBot) screen(ctx context.Context, s *db.Session) *booking.Screen {
	scr, _ := t.openScreen(ctx, s)
	return scr
}

// mountScreen returns the user's booking screen with every fetch rerun,
// as when the screen is opened.
func (t *TelegramBot) mountScreen(ctx context.Context, s *db.Session) *booking.Screen {
	scr, loaded := t.openScreen(ctx, s)
	if !loaded {
		scr.Load(ctx)
	}
	return scr
}

// openScreen reports whether it built and loaded a new screen.
func (t *TelegramBot) openScreen(ctx context.Context, s *db.Session) (*booking.Screen, bool) {
	state := t.state(s.TelegramID, 0)

	t.stateMutex.Lock()
	scr := state.Screen
	fresh := scr == nil || state.ScreenToken != s.Token
	if fresh {
		scr = booking.NewScreen(t.backend, s.Token, s.User.ID, t.logger.Component("booking")).WithClock(t.now)
		state.Screen = scr
		state.ScreenToken = s.Token
		state.CalendarMonth = firstOfMonth(t.now())
	}
	t.stateMutex.Unlock()

	if fresh {
		scr.Load(ctx)
	}
	return scr, fresh
}

func (t *TelegramBot) calendarMonth(userID int64) time.Time {
	state := t.state(userID, 0)
	t.stateMutex.RLock()
	defer t.stateMutex.RUnlock()
	if state.CalendarMonth.IsZero() {
		return firstOfMonth(t.now())
	}
	return state.CalendarMonth
}

func (t *TelegramBot) setCalendarMonth(userID int64, month time.Time) {
	state := t.state(userID, 0)
	t.stateMutex.Lock()
	state.CalendarMonth = firstOfMonth(month)
	t.stateMutex.Unlock()
}

func (t *TelegramBot) showCalendar(ctx context.Context, chatID, userID int64) {
	s, ok := t.currentSession(ctx, userID)
	if !ok {
		t.reply(chatID, booking.MsgLoginRequired+"\nUtilisez /login ou /register.")
		return
	}
	view := t.mountScreen(ctx, s).View()

	msg := tgbotapi.NewMessage(chatID, calendarText(view))
	msg.ReplyMarkup = calendarKeyboard(t.calendarMonth(userID), view)
	t.send(msg)
}

// redrawCalendar edits the calendar message in place.
func (t *TelegramBot) redrawCalendar(cq *tgbotapi.CallbackQuery, view booking.View) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(
		cq.Message.Chat.ID,
		cq.Message.MessageID,
		calendarText(view),
		calendarKeyboard(t.calendarMonth(cq.From.ID), view),
	)
	if _, err := t.sender.Send(edit); err != nil && !strings.Contains(err.Error(), "message is not modified") {
		t.logger.Errorw("Failed to redraw calendar", "error", err)
	}
}

func (t *TelegramBot) handleCalendarCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, action, arg string) {
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID

	if action == cbNoop {
		t.answer(cq, "")
		return
	}

	s, ok := t.currentSession(ctx, userID)
	if !ok {
		t.answer(cq, booking.MsgLoginRequired)
		return
	}
	scr := t.screen(ctx, s)

	switch action {
	case "nav":
		month, err := time.Parse("2006-01", arg)
		if err != nil {
			t.answer(cq, "")
			return
		}
		t.setCalendarMonth(userID, month)
		t.answer(cq, "")

	case "day":
		err := scr.SelectDate(ctx, arg)
		switch {
		case err == nil:
			t.answer(cq, "")
		case errors.Is(err, booking.ErrEligibilityPending):
			t.answer(cq, booking.MsgCheckingSubscription)
			return
		case errors.Is(err, booking.ErrSubscriptionRequired):
			t.answer(cq, "")
			t.reply(chatID, booking.MsgSubscriptionRequired+"\nConsultez les offres avec /offres.")
			return
		case errors.Is(err, booking.ErrNotAuthenticated):
			t.answer(cq, booking.MsgLoginRequired)
			return
		default:
			// Holiday and past-date errors are shown inline.
			t.answer(cq, "")
		}

	case "slot":
		if err := scr.SelectTime(arg); err != nil {
			t.answer(cq, "Ce créneau n'est plus disponible.")
		} else {
			t.answer(cq, "")
		}

	case "book":
		t.answer(cq, "")
		if err := scr.Book(ctx); err != nil {
			t.logger.Warnw("Booking failed", "user_id", userID, "error", err)
			t.reply(chatID, bookingErrorText(err))
		}

	default:
		t.answer(cq, "")
		return
	}

	t.redrawCalendar(cq, scr.View())
}

// bookingErrorText turns a booking error into the modal alert text.
func bookingErrorText(err error) string {
	switch {
	case errors.Is(err, booking.ErrNoDateSelected):
		return "Veuillez choisir une date."
	case errors.Is(err, booking.ErrNoTimeSelected):
		return "Veuillez choisir une heure."
	case errors.Is(err, booking.ErrNotAuthenticated):
		return booking.MsgLoginRequired
	case errors.Is(err, booking.ErrEligibilityPending):
		return booking.MsgCheckingSubscription
	case errors.Is(err, booking.ErrSubscriptionRequired):
		return booking.MsgSubscriptionRequired + "\nConsultez les offres avec /offres."
	case errors.Is(err, booking.ErrQuotaExhausted):
		return "Vous avez atteint votre quota d'interventions."
	case errors.Is(err, booking.ErrNotCancellable):
		return "Ce rendez-vous ne peut plus être annulé."
	}
	return "⚠️ " + api.UserMessage(err)
}

func (t *TelegramBot) showAppointments(ctx context.Context, chatID, userID int64) {
	s, ok := t.currentSession(ctx, userID)
	if !ok {
		t.reply(chatID, booking.MsgLoginRequired+"\nUtilisez /login ou /register.")
		return
	}
	view := t.mountScreen(ctx, s).View()

	msg := tgbotapi.NewMessage(chatID, appointmentsText(view))
	if kb, ok := appointmentsKeyboard(view.UserAppointments); ok {
		msg.ReplyMarkup = kb
	}
	t.send(msg)
}

var classLabels = map[booking.AppointmentClass]string{
	booking.ClassConfirmed:    "confirmé",
	booking.ClassNonConfirmed: "en attente de confirmation",
	booking.ClassCancelled:    "annulé",
	booking.ClassDone:         "terminé",
}

func appointmentsText(view booking.View) string {
	var b strings.Builder
	b.WriteString("🗓 Mes rendez-vous\n\n")
	if len(view.UserAppointments) == 0 {
		b.WriteString("Aucun rendez-vous.\n")
	}
	for _, a := range view.UserAppointments {
		class := booking.ClassifyAppointment(a.Status)
		label, ok := classLabels[class]
		if !ok {
			label = a.Status
		}
		fmt.Fprintf(&b, "• %s à %s : %s\n", a.DateKey(), a.Time, label)
	}
	if view.Error != "" {
		b.WriteString("\n⚠️ " + view.Error)
	}
	if view.Success != "" {
		b.WriteString("\n✅ " + view.Success)
	}
	return b.String()
}

func (t *TelegramBot) handleAppointmentCallback(ctx context.Context, cq *tgbotapi.CallbackQuery, action, id string) {
	t.answer(cq, "")
	chatID := cq.Message.Chat.ID
	userID := cq.From.ID

	switch action {
	case "ask":
		msg := tgbotapi.NewMessage(chatID, "Voulez-vous vraiment annuler ce rendez-vous ?")
		msg.ReplyMarkup = confirmKeyboard(cbAppointment, "cancel", id)
		t.send(msg)

	case "cancel":
		s, ok := t.requireSession(ctx, chatID, userID)
		if !ok {
			return
		}
		scr := t.screen(ctx, s)
		if err := scr.Cancel(ctx, id); err != nil {
			t.logger.Warnw("Cancellation failed", "user_id", userID, "appointment_id", id, "error", err)
			t.reply(chatID, bookingErrorText(err))
			return
		}
		view := scr.View()
		msg := tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, appointmentsText(view))
		t.send(msg)

	case "keep":
		t.send(tgbotapi.NewEditMessageText(chatID, cq.Message.MessageID, "Le rendez-vous est conservé."))
	}
}

// refresh reloads the booking screen, subscription state included.
func (t *TelegramBot) refresh(ctx context.Context, chatID, userID int64) {
	s, ok := t.requireSession(ctx, chatID, userID)
	if !ok {
		return
	}
	view := t.mountScreen(ctx, s).View()

	text := "Données actualisées ✅"
	if view.Error != "" {
		text = "⚠️ " + view.Error
	}
	t.reply(chatID, text)
}
