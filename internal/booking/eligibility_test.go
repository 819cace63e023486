package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"freezy-bot/internal/models"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Confirmé", "confirme"},
		{"Non confirmé", "non_confirme"},
		{"non-confirmé", "non_confirme"},
		{"  ANNULÉ ", "annule"},
		{"active_until_period_end", "active_until_period_end"},
		{"Active until period end", "active_until_period_end"},
		{"succeeded!", "succeeded"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeStatus(tt.input); got != tt.want {
				t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestClassifyAppointment(t *testing.T) {
	tests := []struct {
		input string
		want  AppointmentClass
	}{
		{"Confirmé", ClassConfirmed},
		{"confirmed", ClassConfirmed},
		{"non confirmé", ClassNonConfirmed},
		{"Non-Confirmed", ClassNonConfirmed},
		{"Annulé", ClassCancelled},
		{"canceled", ClassCancelled},
		{"Terminé", ClassDone},
		{"done", ClassDone},
		{"mystère", ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ClassifyAppointment(tt.input); got != tt.want {
				t.Errorf("ClassifyAppointment(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsEligible(t *testing.T) {
	tests := []struct {
		name string
		r    models.SubscriptionRecord
		want bool
	}{
		{"inactive flag wins over status", models.SubscriptionRecord{IsActive: false, Status: "active"}, false},
		{"inactive paid", models.SubscriptionRecord{IsActive: false, Status: "paid", DateFin: "2099-01-01"}, false},
		{"active no end date", models.SubscriptionRecord{IsActive: true, Status: "active"}, true},
		{"succeeded future end", models.SubscriptionRecord{IsActive: true, Status: "succeeded", DateFin: "2099-01-01"}, true},
		{"end date equals now", models.SubscriptionRecord{IsActive: true, Status: "active", DateFin: now.Format(time.RFC3339)}, false},
		{"end date one second later", models.SubscriptionRecord{IsActive: true, Status: "active", DateFin: now.Add(time.Second).Format(time.RFC3339)}, true},
		{"expired", models.SubscriptionRecord{IsActive: true, Status: "paid", DateFin: "2026-03-01"}, false},
		{"subscriptionEndDate fallback", models.SubscriptionRecord{IsActive: true, Status: "completed", SubscriptionEndDate: "2026-03-01"}, false},
		{"unparseable end date", models.SubscriptionRecord{IsActive: true, Status: "active", DateFin: "bientôt"}, false},
		{"period end status", models.SubscriptionRecord{IsActive: true, Status: "Active until period end", DateFin: "2026-04-01"}, true},
		{"unknown status", models.SubscriptionRecord{IsActive: true, Status: "pending"}, false},
		{"cancelled but running", models.SubscriptionRecord{IsActive: true, IsCanceled: true, Status: "active", DateFin: "2026-04-01"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEligible(tt.r, now); got != tt.want {
				t.Errorf("IsEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

type subsSource struct {
	subs        []models.SubscriptionRecord
	subsErr     error
	payments    []models.Payment
	paymentsErr error
	calls       []string
}

func (s *subsSource) ActiveSubscriptions(ctx context.Context, token string) ([]models.SubscriptionRecord, error) {
	s.calls = append(s.calls, "subscriptions")
	return s.subs, s.subsErr
}

func (s *subsSource) PaymentHistory(ctx context.Context, token string) ([]models.Payment, error) {
	s.calls = append(s.calls, "payments")
	return s.payments, s.paymentsErr
}

func paid(status, end string) models.Payment {
	return models.Payment{SubscriptionRecord: models.SubscriptionRecord{ID: models.ID("p-" + status), IsActive: true, Status: status, DateFin: end}}
}

func TestCheckEligibility(t *testing.T) {
	boom := errors.New("boom")

	t.Run("subscriptions endpoint wins", func(t *testing.T) {
		src := &subsSource{subs: []models.SubscriptionRecord{{ID: "s1", IsActive: true, Status: "active"}}}
		el, err := CheckEligibility(context.Background(), src, "tok", now)
		if err != nil || !el.Active || el.Source != SourceSubscriptions || el.Record.ID != "s1" {
			t.Fatalf("got %+v, %v", el, err)
		}
		if len(src.calls) != 1 {
			t.Errorf("calls = %v, payment history must not be consulted", src.calls)
		}
	})

	t.Run("falls back when primary fails", func(t *testing.T) {
		src := &subsSource{subsErr: boom, payments: []models.Payment{paid("succeeded", "2099-01-01")}}
		el, err := CheckEligibility(context.Background(), src, "tok", now)
		if err != nil || !el.Active || el.Source != SourcePayments {
			t.Fatalf("got %+v, %v", el, err)
		}
	})

	t.Run("falls back when primary has no valid entry", func(t *testing.T) {
		src := &subsSource{
			subs:     []models.SubscriptionRecord{{IsActive: false, Status: "active"}},
			payments: []models.Payment{paid("paid", "")},
		}
		el, err := CheckEligibility(context.Background(), src, "tok", now)
		if err != nil || !el.Active || el.Source != SourcePayments {
			t.Fatalf("got %+v, %v", el, err)
		}
	})

	t.Run("nothing eligible", func(t *testing.T) {
		src := &subsSource{payments: []models.Payment{paid("refunded", "")}}
		el, err := CheckEligibility(context.Background(), src, "tok", now)
		if err != nil || el.Active || el.Record != nil {
			t.Fatalf("got %+v, %v", el, err)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		src := &subsSource{subsErr: boom, paymentsErr: boom}
		el, err := CheckEligibility(context.Background(), src, "tok", now)
		if !errors.Is(err, boom) || el.Active {
			t.Fatalf("got %+v, %v", el, err)
		}
	})
}

func TestBuildMarks(t *testing.T) {
	appts := []models.Appointment{
		{ID: "a1", Date: "2026-03-10T00:00:00.000Z", Status: "Confirmé"},
		{ID: "a2", Date: "2026-03-11", Status: "non confirmé"},
		{ID: "a3", Date: "2026-03-12", Status: "Annulé"},
		{ID: "a4", Date: "2026-03-13", Status: "Confirmé"},
	}
	holidays := []models.Holiday{{Date: "2026-03-13"}, {Date: "2026-03-20"}}

	marks := BuildMarks("2026-03-05", appts, holidays)

	want := map[string]Mark{
		"2026-03-05": {Selected: true},
		"2026-03-10": {Disabled: true, Dot: DotRed},
		"2026-03-11": {Disabled: true, Dot: DotRed},
		"2026-03-13": {Disabled: true, Dot: DotOrange},
		"2026-03-20": {Disabled: true, Dot: DotOrange},
	}
	if len(marks) != len(want) {
		t.Fatalf("marks = %+v", marks)
	}
	for date, m := range want {
		if marks[date] != m {
			t.Errorf("marks[%s] = %+v, want %+v", date, marks[date], m)
		}
	}
}

func TestBuildMarks_BookedSelectedDateLosesHighlight(t *testing.T) {
	marks := BuildMarks("2026-03-10", []models.Appointment{{Date: "2026-03-10", Status: "confirmed"}}, nil)
	if m := marks["2026-03-10"]; m.Selected || !m.Disabled {
		t.Errorf("mark = %+v", m)
	}
}

func TestPickSlot(t *testing.T) {
	tests := []struct {
		name  string
		prev  string
		slots []string
		want  string
	}{
		{"keeps previous", "10:00", []string{"09:00", "10:00"}, "10:00"},
		{"falls back to first", "11:00", []string{"09:00", "10:00"}, "09:00"},
		{"empty list", "10:00", nil, ""},
		{"no previous", "", []string{"14:00"}, "14:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PickSlot(tt.prev, tt.slots); got != tt.want {
				t.Errorf("PickSlot() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOfferableSlots(t *testing.T) {
	slots := []string{"09:00", "10:00"}
	if got := OfferableSlots(slots, nil); len(got) != 2 {
		t.Errorf("nil quota: %v", got)
	}
	if got := OfferableSlots(slots, &models.InterventionQuota{Allowed: true, Max: 4, Remaining: 1}); len(got) != 2 {
		t.Errorf("remaining quota: %v", got)
	}
	if got := OfferableSlots(slots, &models.InterventionQuota{Allowed: false, Reason: "limite"}); got != nil {
		t.Errorf("refused quota: %v", got)
	}
}
