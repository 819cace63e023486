package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"freezy-bot/internal/models"
)

func (c *Client) CreateAppointment(ctx context.Context, token string, req models.AppointmentRequest) (*models.Appointment, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "create_appointment", http.MethodPost, "/rendezvous", token, true, req, &raw); err != nil {
		return nil, err
	}
	var appt models.Appointment
	if len(bytes.TrimSpace(raw)) > 0 {
		// The created record is informational only; callers refetch.
		_ = json.Unmarshal(raw, &appt)
	}
	return &appt, nil
}

func (c *Client) UserAppointments(ctx context.Context, token, userID string) ([]models.Appointment, error) {
	var raw json.RawMessage
	path := "/rendezvous/user/" + url.PathEscape(userID)
	if err := c.call(ctx, "user_appointments", http.MethodGet, path, token, true, nil, &raw); err != nil {
		return nil, err
	}
	return listOf[models.Appointment](c, "user_appointments", raw), nil
}

func (c *Client) AllAppointments(ctx context.Context, token string) ([]models.Appointment, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "all_appointments", http.MethodGet, "/rendezvous", token, true, nil, &raw); err != nil {
		return nil, err
	}
	return listOf[models.Appointment](c, "all_appointments", raw), nil
}

// AvailableSlots returns the free times ("HH:MM") for date. The backend
// answers with plain strings or with slot objects.
func (c *Client) AvailableSlots(ctx context.Context, token, date string) ([]string, error) {
	var raw json.RawMessage
	path := "/rendezvous/available?date=" + url.QueryEscape(date)
	if err := c.call(ctx, "available_slots", http.MethodGet, path, token, true, nil, &raw); err != nil {
		return nil, err
	}

	if slots, dropped, _ := decodeList[string](raw); slots != nil && dropped == 0 {
		return cleanSlots(slots), nil
	}
	type slotObject struct {
		Heure     string `json:"heure"`
		Time      string `json:"time"`
		Available *bool  `json:"available"`
	}
	var slots []string
	for _, s := range listOf[slotObject](c, "available_slots", raw) {
		if s.Available != nil && !*s.Available {
			continue
		}
		if s.Heure != "" {
			slots = append(slots, s.Heure)
		} else {
			slots = append(slots, s.Time)
		}
	}
	return cleanSlots(slots), nil
}

func cleanSlots(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) DeleteAppointment(ctx context.Context, token, appointmentID string) error {
	path := "/rendezvous/" + url.PathEscape(appointmentID)
	return c.call(ctx, "delete_appointment", http.MethodDelete, path, token, true, nil, nil)
}

// Holidays returns the closed days. Entries come as bare dates or objects.
func (c *Client) Holidays(ctx context.Context, token string) ([]models.Holiday, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "holidays", http.MethodGet, "/conges", token, true, nil, &raw); err != nil {
		return nil, err
	}
	if dates, dropped, _ := decodeList[string](raw); dates != nil && dropped == 0 {
		holidays := make([]models.Holiday, 0, len(dates))
		for _, d := range dates {
			holidays = append(holidays, models.Holiday{Date: d})
		}
		return holidays, nil
	}
	return listOf[models.Holiday](c, "holidays", raw), nil
}

func (c *Client) InterventionLimit(ctx context.Context, token, userID string) (*models.InterventionQuota, error) {
	var quota models.InterventionQuota
	path := "/interventions/limit/" + url.PathEscape(userID)
	if err := c.call(ctx, "intervention_limit", http.MethodGet, path, token, true, nil, &quota); err != nil {
		return nil, err
	}
	return &quota, nil
}
