package bot

import (
	"fmt"
	"strings"
	"time"

	"freezy-bot/internal/booking"
	"freezy-bot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback kinds. Callback data is "kind:action[:arg]" and must stay under
// Telegram's 64-byte limit.
const (
	cbCalendar     = "cal"
	cbAppointment  = "rdv"
	cbOffer        = "off"
	cbSubscription = "sub"
	cbProfile      = "prof"
	cbComment      = "avis"
)

const cbNoop = "noop"

func callbackData(kind, action string, arg ...string) string {
	parts := append([]string{kind, action}, arg...)
	return strings.Join(parts, ":")
}

// parseCallback splits callback data. The argument keeps any further
// colons, so "cal:slot:09:30" yields arg "09:30".
func parseCallback(data string) (kind, action, arg string) {
	parts := strings.SplitN(data, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return data, "", ""
	}
}

var monthNames = [...]string{
	"Janvier", "Février", "Mars", "Avril", "Mai", "Juin",
	"Juillet", "Août", "Septembre", "Octobre", "Novembre", "Décembre",
}

var weekdayHeader = [...]string{"L", "M", "M", "J", "V", "S", "D"}

func monthTitle(month time.Time) string {
	return fmt.Sprintf("%s %d", monthNames[month.Month()-1], month.Year())
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// dayLabel renders one calendar cell.
func dayLabel(day int, mark booking.Mark, ok bool) string {
	label := fmt.Sprintf("%d", day)
	if !ok {
		return label
	}
	switch {
	case mark.Dot == booking.DotOrange:
		return "🟠" + label
	case mark.Dot == booking.DotRed:
		return "🔴" + label
	case mark.Selected:
		return "✅" + label
	}
	return label
}

// calendarKeyboard builds the month grid, the slot buttons of the
// selected day and the reserve button.
func calendarKeyboard(month time.Time, view booking.View) tgbotapi.InlineKeyboardMarkup {
	month = firstOfMonth(month)
	noop := callbackData(cbCalendar, cbNoop)

	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("◀", callbackData(cbCalendar, "nav", month.AddDate(0, -1, 0).Format("2006-01"))),
			tgbotapi.NewInlineKeyboardButtonData(monthTitle(month), noop),
			tgbotapi.NewInlineKeyboardButtonData("▶", callbackData(cbCalendar, "nav", month.AddDate(0, 1, 0).Format("2006-01"))),
		),
	}

	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, d := range weekdayHeader {
		header = append(header, tgbotapi.NewInlineKeyboardButtonData(d, noop))
	}
	rows = append(rows, header)

	// Monday-first offset of the 1st.
	offset := (int(month.Weekday()) + 6) % 7
	days := month.AddDate(0, 1, -1).Day()

	week := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for i := 0; i < offset; i++ {
		week = append(week, tgbotapi.NewInlineKeyboardButtonData(" ", noop))
	}
	for day := 1; day <= days; day++ {
		key := month.AddDate(0, 0, day-1).Format(models.DateLayout)
		mark, ok := view.Marks[key]
		week = append(week, tgbotapi.NewInlineKeyboardButtonData(dayLabel(day, mark, ok), callbackData(cbCalendar, "day", key)))
		if len(week) == 7 {
			rows = append(rows, week)
			week = make([]tgbotapi.InlineKeyboardButton, 0, 7)
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, tgbotapi.NewInlineKeyboardButtonData(" ", noop))
		}
		rows = append(rows, week)
	}

	if view.SelectedDate != "" {
		var row []tgbotapi.InlineKeyboardButton
		for _, slot := range view.Slots {
			label := slot
			if slot == view.SelectedTime {
				label = "✅ " + slot
			}
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, callbackData(cbCalendar, "slot", slot)))
			if len(row) == 3 {
				rows = append(rows, row)
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}

	if view.CanReserve {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Réserver", callbackData(cbCalendar, "book")),
		))
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// calendarText is the message body shown above the calendar keyboard.
func calendarText(view booking.View) string {
	var b strings.Builder
	b.WriteString("📅 Prendre rendez-vous\n\n")

	switch {
	case view.Checking:
		b.WriteString(booking.MsgCheckingSubscription + "\n")
	case !view.Eligibility.Active:
		b.WriteString(booking.MsgSubscriptionRequired + "\n")
	}

	if q := view.Quota; q != nil {
		if q.Max > 0 {
			fmt.Fprintf(&b, "Interventions restantes : %d/%d\n", q.Remaining, q.Max)
		}
		if q.Exhausted() && q.Reason != "" {
			b.WriteString(q.Reason + "\n")
		}
	}

	if view.SelectedDate != "" {
		fmt.Fprintf(&b, "\nDate : %s", view.SelectedDate)
		if n := view.BookedCount(view.SelectedDate); n > 0 {
			fmt.Fprintf(&b, " (%d rendez-vous déjà pris)", n)
		}
		b.WriteString("\n")
		switch {
		case view.SelectedTime != "":
			fmt.Fprintf(&b, "Heure : %s\n", view.SelectedTime)
		case len(view.Slots) == 0:
			b.WriteString("Aucun créneau disponible pour cette date.\n")
		}
	}

	b.WriteString("\n🔴 réservé  🟠 congé  ✅ sélectionné\n")

	if view.Error != "" {
		b.WriteString("\n⚠️ " + view.Error)
	}
	if view.Success != "" {
		b.WriteString("\n✅ " + view.Success)
	}
	return b.String()
}

// appointmentsKeyboard offers a cancel button for every cancellable
// appointment.
func appointmentsKeyboard(appts []models.Appointment) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, a := range appts {
		if !booking.ClassifyAppointment(a.Status).Cancellable() {
			continue
		}
		label := fmt.Sprintf("❌ Annuler le %s %s", a.DateKey(), a.Time)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(cbAppointment, "ask", a.ID.String())),
		))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// confirmKeyboard is the yes/no prompt shown before destructive actions.
func confirmKeyboard(kind, action, arg string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Oui", callbackData(kind, action, arg)),
			tgbotapi.NewInlineKeyboardButtonData("Non", callbackData(kind, "keep")),
		),
	)
}

func offersKeyboard(offers []models.Offer) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(offers))
	for _, o := range offers {
		label := fmt.Sprintf("Souscrire : %s (%s)", o.Name, formatPrice(o.Price, o.Currency))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(cbOffer, "buy", o.ID.String())),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

var profileFields = []struct {
	key   string
	label string
}{
	{"nom", "Nom"},
	{"prenom", "Prénom"},
	{"telephone", "Téléphone"},
	{"adresse", "Adresse"},
	{"entreprise", "Entreprise"},
	{"photo", "Photo"},
}

func profileKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, f := range profileFields {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("✏️ "+f.label, callbackData(cbProfile, "edit", f.key)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// formatPrice renders an amount the French way: "49,00 €".
func formatPrice(amount float64, currency string) string {
	s := strings.Replace(fmt.Sprintf("%.2f", amount), ".", ",", 1)
	switch strings.ToLower(currency) {
	case "", "eur":
		return s + " €"
	default:
		return s + " " + strings.ToUpper(currency)
	}
}

// formatMinor renders an amount given in the currency's minor unit.
func formatMinor(amount int64, currency string) string {
	return formatPrice(float64(amount)/100, currency)
}
