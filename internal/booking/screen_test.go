package booking

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"freezy-bot/internal/models"
	"freezy-bot/pkg/logger"
)

// fakeBackend records every call it receives in order.
type fakeBackend struct {
	mu sync.Mutex

	subs        []models.SubscriptionRecord
	payments    []models.Payment
	userAppts   []models.Appointment
	allAppts    []models.Appointment
	holidays    []models.Holiday
	quota       *models.InterventionQuota
	slots       map[string][]string
	slotsErr    error
	createErr   error
	deleteErr   error
	slotGates   map[string]chan struct{}
	slotStarted chan string

	calls []string
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeBackend) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeBackend) ActiveSubscriptions(ctx context.Context, token string) ([]models.SubscriptionRecord, error) {
	f.record("active_subscriptions")
	return f.subs, nil
}

func (f *fakeBackend) PaymentHistory(ctx context.Context, token string) ([]models.Payment, error) {
	f.record("payment_history")
	return f.payments, nil
}

func (f *fakeBackend) UserAppointments(ctx context.Context, token, userID string) ([]models.Appointment, error) {
	f.record("user_appointments")
	return f.userAppts, nil
}

func (f *fakeBackend) AllAppointments(ctx context.Context, token string) ([]models.Appointment, error) {
	f.record("all_appointments")
	return f.allAppts, nil
}

func (f *fakeBackend) Holidays(ctx context.Context, token string) ([]models.Holiday, error) {
	f.record("holidays")
	return f.holidays, nil
}

func (f *fakeBackend) InterventionLimit(ctx context.Context, token, userID string) (*models.InterventionQuota, error) {
	f.record("intervention_limit")
	return f.quota, nil
}

func (f *fakeBackend) AvailableSlots(ctx context.Context, token, date string) ([]string, error) {
	f.record("available_slots:" + date)
	if f.slotStarted != nil {
		f.slotStarted <- date
	}
	if gate, ok := f.slotGates[date]; ok {
		<-gate
	}
	return f.slots[date], f.slotsErr
}

func (f *fakeBackend) CreateAppointment(ctx context.Context, token string, req models.AppointmentRequest) (*models.Appointment, error) {
	f.record("create_appointment:" + req.Date + " " + req.Time)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.Appointment{ID: "new", Date: req.Date, Time: req.Time, Status: "non confirmé"}, nil
}

func (f *fakeBackend) DeleteAppointment(ctx context.Context, token, appointmentID string) error {
	f.record("delete_appointment:" + appointmentID)
	return f.deleteErr
}

func subscribedBackend() *fakeBackend {
	return &fakeBackend{
		payments: []models.Payment{{SubscriptionRecord: models.SubscriptionRecord{IsActive: true, Status: "succeeded", DateFin: "2099-01-01"}}},
		holidays: []models.Holiday{{Date: "2026-03-13"}},
		quota:    &models.InterventionQuota{Allowed: true, Used: 1, Max: 4, Remaining: 3},
		slots: map[string][]string{
			"2026-03-10": {"09:00", "10:00"},
			"2026-03-11": {"14:00"},
		},
	}
}

func newScreen(b Backend) *Screen {
	return NewScreen(b, "tok", "u1", logger.NewNop()).WithClock(func() time.Time { return now })
}

func TestScreen_SubscribedUserCanReserve(t *testing.T) {
	backend := subscribedBackend()
	s := newScreen(backend)
	s.Load(context.Background())

	v := s.View()
	if v.Checking || !v.Eligibility.Active || v.Eligibility.Source != SourcePayments {
		t.Fatalf("eligibility = %+v checking=%v", v.Eligibility, v.Checking)
	}

	if err := s.SelectDate(context.Background(), "2026-03-10"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	v = s.View()
	if v.SelectedDate != "2026-03-10" || v.SelectedTime != "09:00" {
		t.Errorf("selection = %s %s", v.SelectedDate, v.SelectedTime)
	}
	if !v.CanReserve {
		t.Error("reserve must be enabled")
	}
	if !v.Marks["2026-03-10"].Selected {
		t.Errorf("mark = %+v", v.Marks["2026-03-10"])
	}
}

func TestScreen_NoSubscriptionNeverFetchesSlots(t *testing.T) {
	backend := subscribedBackend()
	backend.payments = nil
	s := newScreen(backend)
	s.Load(context.Background())
	backend.reset()

	err := s.SelectDate(context.Background(), "2026-03-10")
	if !errors.Is(err, ErrSubscriptionRequired) {
		t.Fatalf("SelectDate() error = %v", err)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
	if s.View().SelectedDate != "" {
		t.Error("date must not be selected")
	}
}

func TestScreen_SelectBeforeLoadIsPending(t *testing.T) {
	backend := subscribedBackend()
	s := newScreen(backend)

	if err := s.SelectDate(context.Background(), "2026-03-10"); !errors.Is(err, ErrEligibilityPending) {
		t.Fatalf("SelectDate() error = %v", err)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestScreen_HolidayRejected(t *testing.T) {
	backend := subscribedBackend()
	s := newScreen(backend)
	s.Load(context.Background())
	backend.reset()

	err := s.SelectDate(context.Background(), "2026-03-13")
	if !errors.Is(err, ErrHolidayDate) {
		t.Fatalf("SelectDate() error = %v", err)
	}
	v := s.View()
	if v.SelectedDate == "2026-03-13" {
		t.Error("holiday must not be retained as selected")
	}
	if !strings.Contains(v.Error, "jour de congé") {
		t.Errorf("Error = %q", v.Error)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestScreen_ValidSelectionClearsMessages(t *testing.T) {
	backend := subscribedBackend()
	s := newScreen(backend)
	s.Load(context.Background())

	_ = s.SelectDate(context.Background(), "2026-03-13")
	if err := s.SelectDate(context.Background(), "2026-03-11"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	if v := s.View(); v.Error != "" || v.Success != "" {
		t.Errorf("messages = %q / %q", v.Error, v.Success)
	}
}

func TestScreen_PastDateRejected(t *testing.T) {
	s := newScreen(subscribedBackend())
	s.Load(context.Background())
	if err := s.SelectDate(context.Background(), "2026-03-01"); !errors.Is(err, ErrPastDate) {
		t.Fatalf("SelectDate() error = %v", err)
	}
	if err := s.SelectDate(context.Background(), "03/10/2026"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("SelectDate() error = %v", err)
	}
}

func TestScreen_BookWithoutTimeMakesNoCall(t *testing.T) {
	backend := subscribedBackend()
	backend.slots["2026-03-12"] = nil
	s := newScreen(backend)
	s.Load(context.Background())
	if err := s.SelectDate(context.Background(), "2026-03-12"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	backend.reset()

	if err := s.Book(context.Background()); !errors.Is(err, ErrNoTimeSelected) {
		t.Fatalf("Book() error = %v", err)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestScreen_BookRefreshesInOrder(t *testing.T) {
	backend := subscribedBackend()
	s := newScreen(backend)
	s.Load(context.Background())
	if err := s.SelectDate(context.Background(), "2026-03-10"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	if err := s.SelectTime("10:00"); err != nil {
		t.Fatalf("SelectTime() error = %v", err)
	}
	backend.reset()

	if err := s.Book(context.Background()); err != nil {
		t.Fatalf("Book() error = %v", err)
	}

	want := []string{
		"create_appointment:2026-03-10 10:00",
		"user_appointments",
		"all_appointments",
		"available_slots:2026-03-10",
		"intervention_limit",
	}
	if got := backend.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if s.View().Success != MsgBooked {
		t.Errorf("Success = %q", s.View().Success)
	}
}

func TestScreen_BookFailureIsReturned(t *testing.T) {
	backend := subscribedBackend()
	backend.createErr = errors.New("créneau déjà pris")
	s := newScreen(backend)
	s.Load(context.Background())
	_ = s.SelectDate(context.Background(), "2026-03-10")
	backend.reset()

	if err := s.Book(context.Background()); err == nil {
		t.Fatal("Book() expected an error")
	}
	if calls := backend.Calls(); len(calls) != 1 {
		t.Errorf("no refresh expected after a failed booking, got %v", calls)
	}
}

func TestScreen_QuotaExhaustedBlocksBooking(t *testing.T) {
	backend := subscribedBackend()
	backend.quota = &models.InterventionQuota{Allowed: false, Used: 4, Max: 4, Reason: "Quota atteint"}
	s := newScreen(backend)
	s.Load(context.Background())
	_ = s.SelectDate(context.Background(), "2026-03-10")

	v := s.View()
	if len(v.Slots) != 0 || v.CanReserve {
		t.Errorf("slots = %v canReserve = %v", v.Slots, v.CanReserve)
	}
	backend.reset()
	if err := s.Book(context.Background()); !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("Book() error = %v", err)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestScreen_CancelDeletesThenRefreshesFourTimes(t *testing.T) {
	backend := subscribedBackend()
	backend.userAppts = []models.Appointment{{ID: "a1", Date: "2026-03-11", Time: "14:00", Status: "non confirmé"}}
	s := newScreen(backend)
	s.Load(context.Background())
	backend.reset()

	if err := s.Cancel(context.Background(), "a1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	want := []string{
		"delete_appointment:a1",
		"user_appointments",
		"all_appointments",
		"available_slots:2026-03-11",
		"intervention_limit",
	}
	if got := backend.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestScreen_CancelDoneAppointmentRefused(t *testing.T) {
	backend := subscribedBackend()
	backend.userAppts = []models.Appointment{{ID: "a1", Date: "2026-02-11", Status: "Terminé"}}
	s := newScreen(backend)
	s.Load(context.Background())
	backend.reset()

	if err := s.Cancel(context.Background(), "a1"); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("Cancel() error = %v", err)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestScreen_StaleSlotResponseDiscarded(t *testing.T) {
	backend := subscribedBackend()
	backend.slotGates = map[string]chan struct{}{"2026-03-10": make(chan struct{})}
	backend.slotStarted = make(chan string, 4)
	s := newScreen(backend)
	s.Load(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.SelectDate(context.Background(), "2026-03-10") }()
	if got := <-backend.slotStarted; got != "2026-03-10" {
		t.Fatalf("first fetch for %s", got)
	}

	if err := s.SelectDate(context.Background(), "2026-03-11"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	<-backend.slotStarted

	close(backend.slotGates["2026-03-10"])
	if err := <-done; err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}

	v := s.View()
	if v.SelectedDate != "2026-03-11" || !slices.Equal(v.Slots, []string{"14:00"}) || v.SelectedTime != "14:00" {
		t.Errorf("view = %s %v %s", v.SelectedDate, v.Slots, v.SelectedTime)
	}
}

func TestScreen_UnauthenticatedLoad(t *testing.T) {
	backend := subscribedBackend()
	s := NewScreen(backend, "", "", logger.NewNop())
	s.Load(context.Background())

	v := s.View()
	if v.Eligibility.Active || v.Error != MsgLoginRequired {
		t.Errorf("view = %+v", v)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
	if err := s.SelectDate(context.Background(), "2026-03-10"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SelectDate() error = %v", err)
	}
}

func TestScreen_SlotFetchFailureIsInline(t *testing.T) {
	backend := subscribedBackend()
	backend.slotsErr = errors.New("timeout")
	s := newScreen(backend)
	s.Load(context.Background())

	if err := s.SelectDate(context.Background(), "2026-03-10"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	v := s.View()
	if v.Error == "" || len(v.Slots) != 0 || v.SelectedTime != "" {
		t.Errorf("view = %+v", v)
	}
}

func TestView_BookedCount(t *testing.T) {
	backend := subscribedBackend()
	backend.allAppts = []models.Appointment{
		{Date: "2026-03-10", Status: "Confirmé"},
		{Date: "2026-03-10", Status: "Annulé"},
		{Date: "2026-03-10", Status: "non confirmé"},
	}
	s := newScreen(backend)
	s.Load(context.Background())
	if got := s.View().BookedCount("2026-03-10"); got != 2 {
		t.Errorf("BookedCount() = %d", got)
	}
}

func TestScreen_SubscriptionEndingWhileOpen(t *testing.T) {
	backend := subscribedBackend()
	backend.payments = []models.Payment{{SubscriptionRecord: models.SubscriptionRecord{IsActive: true, Status: "succeeded", DateFin: "2026-03-02T11:00:00Z"}}}
	clock := now
	s := NewScreen(backend, "tok", "u1", logger.NewNop()).WithClock(func() time.Time { return clock })
	s.Load(context.Background())

	if err := s.SelectDate(context.Background(), "2026-03-10"); err != nil {
		t.Fatalf("SelectDate() error = %v", err)
	}
	if !s.View().CanReserve {
		t.Fatal("reserve must be enabled before the end date")
	}

	clock = now.Add(48 * time.Hour)
	backend.reset()

	if v := s.View(); v.CanReserve || v.Eligibility.Active {
		t.Errorf("expired subscription still active: %+v canReserve=%v", v.Eligibility, v.CanReserve)
	}
	if err := s.SelectDate(context.Background(), "2026-03-11"); !errors.Is(err, ErrSubscriptionRequired) {
		t.Errorf("SelectDate() error = %v, want %v", err, ErrSubscriptionRequired)
	}
	if err := s.Book(context.Background()); !errors.Is(err, ErrSubscriptionRequired) {
		t.Errorf("Book() error = %v, want %v", err, ErrSubscriptionRequired)
	}
	if calls := backend.Calls(); len(calls) != 0 {
		t.Errorf("unexpected calls %v", calls)
	}
}

func TestScreen_CancelUnknownAppointmentStillRefreshesFourTimes(t *testing.T) {
	backend := subscribedBackend()
	s := newScreen(backend)
	s.Load(context.Background())
	backend.reset()

	if err := s.Cancel(context.Background(), "gone"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	want := []string{
		"delete_appointment:gone",
		"user_appointments",
		"all_appointments",
		"available_slots:" + now.Format(models.DateLayout),
		"intervention_limit",
	}
	if got := backend.Calls(); !slices.Equal(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}
