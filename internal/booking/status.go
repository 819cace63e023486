// Package booking decides whether a user may book, which calendar days
// are selectable and which times can be offered, from backend snapshots.
package booking

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeStatus folds a free-text status for tolerant comparison:
// accents dropped, lowercased, every run of other characters collapsed
// to a single underscore. "Non confirmé" becomes "non_confirme".
func NormalizeStatus(status string) string {
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripAccents, status)
	if err != nil {
		folded = status
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	sep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// AppointmentClass is the normalized state of an appointment.
type AppointmentClass string

const (
	ClassConfirmed    AppointmentClass = "confirmed"
	ClassNonConfirmed AppointmentClass = "non-confirmed"
	ClassCancelled    AppointmentClass = "cancelled"
	ClassDone         AppointmentClass = "done"
	ClassUnknown      AppointmentClass = "unknown"
)

var appointmentClasses = map[string]AppointmentClass{
	"confirme":      ClassConfirmed,
	"confirmee":     ClassConfirmed,
	"confirmed":     ClassConfirmed,
	"non_confirme":  ClassNonConfirmed,
	"non_confirmee": ClassNonConfirmed,
	"non_confirmed": ClassNonConfirmed,
	"unconfirmed":   ClassNonConfirmed,
	"en_attente":    ClassNonConfirmed,
	"pending":       ClassNonConfirmed,
	"annule":        ClassCancelled,
	"annulee":       ClassCancelled,
	"cancelled":     ClassCancelled,
	"canceled":      ClassCancelled,
	"termine":       ClassDone,
	"terminee":      ClassDone,
	"effectue":      ClassDone,
	"effectuee":     ClassDone,
	"realise":       ClassDone,
	"done":          ClassDone,
	"completed":     ClassDone,
}

// ClassifyAppointment maps a raw appointment status to its class.
func ClassifyAppointment(status string) AppointmentClass {
	if c, ok := appointmentClasses[NormalizeStatus(status)]; ok {
		return c
	}
	return ClassUnknown
}

// Blocking reports whether an appointment in this class occupies its day.
func (c AppointmentClass) Blocking() bool {
	return c == ClassConfirmed || c == ClassNonConfirmed
}

// Cancellable reports whether the user may still cancel it.
func (c AppointmentClass) Cancellable() bool {
	return c.Blocking()
}
