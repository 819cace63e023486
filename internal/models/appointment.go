// internal/models/appointment.go
package models

import (
	"strings"
	"time"
)

// DateLayout is the calendar key format used everywhere in the client.
const DateLayout = "2006-01-02"

type Appointment struct {
	ID     ID      `json:"id"`
	Date   string  `json:"date"`
	Time   string  `json:"heure"`
	Status string  `json:"status"`
	User   UserRef `json:"user"`
}

// DateKey returns the calendar day of the appointment.
func (a Appointment) DateKey() string {
	return DateKey(a.Date)
}

// AppointmentRequest is the booking creation body.
type AppointmentRequest struct {
	UserID string `json:"userId"`
	Date   string `json:"date"`
	Time   string `json:"heure"`
}

// Holiday is a day the business declared closed.
type Holiday struct {
	ID   ID     `json:"id,omitempty"`
	Date string `json:"date"`
}

func (h Holiday) DateKey() string {
	return DateKey(h.Date)
}

// InterventionQuota is the visit allowance left on the current subscription.
type InterventionQuota struct {
	Allowed   bool   `json:"allowed"`
	Used      int    `json:"used"`
	Max       int    `json:"max"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason,omitempty"`
}

// Exhausted reports whether no more visits may be booked.
func (q InterventionQuota) Exhausted() bool {
	if !q.Allowed {
		return true
	}
	return q.Max > 0 && q.Remaining <= 0
}

type Comment struct {
	ID         ID      `json:"id"`
	AuthorName string  `json:"nom"`
	Body       string  `json:"contenu"`
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
	User       UserRef `json:"user"`
}

// Created parses CreatedAt; ok is false when it is missing or unreadable.
func (c Comment) Created() (time.Time, bool) {
	return ParseDate(c.CreatedAt)
}

// CommentRequest is the comment creation body.
type CommentRequest struct {
	UserID     string `json:"userId"`
	AuthorName string `json:"nom"`
	Body       string `json:"contenu"`
}

// DateKey truncates an ISO date or datetime to its YYYY-MM-DD part.
func DateKey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

// ParseDate accepts the date shapes the backend emits. Values without a
// zone are read as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
