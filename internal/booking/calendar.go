package booking

import "freezy-bot/internal/models"

type Dot string

const (
	DotNone   Dot = ""
	DotRed    Dot = "red"
	DotOrange Dot = "orange"
)

// Mark is the display state of one calendar day.
type Mark struct {
	Selected bool
	Disabled bool
	Dot      Dot
}

// BuildMarks maps ISO dates to their display state. Insertion order is
// selected, then booked days, then holidays; a later insertion replaces
// an earlier one for the same day, so a holiday always wins.
func BuildMarks(selected string, userAppointments []models.Appointment, holidays []models.Holiday) map[string]Mark {
	marks := make(map[string]Mark, len(userAppointments)+len(holidays)+1)
	if selected != "" {
		marks[selected] = Mark{Selected: true}
	}
	for _, a := range userAppointments {
		if !ClassifyAppointment(a.Status).Blocking() {
			continue
		}
		if key := a.DateKey(); key != "" {
			marks[key] = Mark{Disabled: true, Dot: DotRed}
		}
	}
	for _, h := range holidays {
		if key := h.DateKey(); key != "" {
			marks[key] = Mark{Disabled: true, Dot: DotOrange}
		}
	}
	return marks
}

// IsHoliday reports whether date is one of holidays.
func IsHoliday(date string, holidays []models.Holiday) bool {
	for _, h := range holidays {
		if h.DateKey() == date {
			return true
		}
	}
	return false
}
