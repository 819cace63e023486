package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"freezy-bot/internal/models"
	"freezy-bot/pkg/logger"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

// Backend is everything the booking screen reads from or writes to.
type Backend interface {
	SubscriptionSource
	UserAppointments(ctx context.Context, token, userID string) ([]models.Appointment, error)
	AllAppointments(ctx context.Context, token string) ([]models.Appointment, error)
	Holidays(ctx context.Context, token string) ([]models.Holiday, error)
	InterventionLimit(ctx context.Context, token, userID string) (*models.InterventionQuota, error)
	AvailableSlots(ctx context.Context, token, date string) ([]string, error)
	CreateAppointment(ctx context.Context, token string, req models.AppointmentRequest) (*models.Appointment, error)
	DeleteAppointment(ctx context.Context, token, appointmentID string) error
}

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrEligibilityPending   = errors.New("subscription check in progress")
	ErrSubscriptionRequired = errors.New("active subscription required")
	ErrInvalidDate          = errors.New("invalid date")
	ErrPastDate             = errors.New("date is in the past")
	ErrHolidayDate          = errors.New("date is a holiday")
	ErrNoDateSelected       = errors.New("no date selected")
	ErrNoTimeSelected       = errors.New("no time selected")
	ErrSlotUnavailable      = errors.New("time slot not available")
	ErrQuotaExhausted       = errors.New("intervention quota exhausted")
	ErrNotCancellable       = errors.New("appointment cannot be cancelled")
)

// Inline messages shown on the screen.
const (
	MsgLoginRequired        = "Connectez-vous pour réserver un rendez-vous."
	MsgCheckingSubscription = "Vérification de votre abonnement en cours…"
	MsgSubscriptionRequired = "Vous devez avoir un abonnement actif pour réserver un rendez-vous."
	MsgHoliday              = "Ce jour est un jour de congé, veuillez choisir une autre date."
	MsgPastDate             = "Cette date est déjà passée."
	MsgBooked               = "Votre rendez-vous a bien été réservé."
	MsgCancelled            = "Votre rendez-vous a été annulé."
)

// Fetch operation names, used as in-flight keys and in error messages.
const (
	opLoad             = "load"
	opEligibility      = "eligibility"
	opUserAppointments = "user_appointments"
	opAllAppointments  = "all_appointments"
	opHolidays         = "holidays"
	opQuota            = "quota"
)

var fetchLabels = map[string]string{
	opEligibility:      "votre abonnement",
	opUserAppointments: "vos rendez-vous",
	opAllAppointments:  "le planning",
	opHolidays:         "les jours de congé",
	opQuota:            "votre quota d'interventions",
	"slots":            "les créneaux disponibles",
}

func fetchMessage(op string) string {
	return fmt.Sprintf("Impossible de charger %s.", fetchLabels[op])
}

// Screen is the booking state of one signed-in user. Every method is safe
// for concurrent use; network calls run without holding the lock.
type Screen struct {
	backend Backend
	token   string
	userID  string
	logger  *logger.Logger
	now     func() time.Time

	// flight collapses concurrent identical fetches into one request.
	flight singleflight.Group

	mu               sync.Mutex
	checking         bool
	eligibility      Eligibility
	userAppointments []models.Appointment
	allAppointments  []models.Appointment
	holidays         []models.Holiday
	quota            *models.InterventionQuota
	selectedDate     string
	selectedTime     string
	slots            []string
	slotSeq          uint64
	errMsg           string
	successMsg       string
}

func NewScreen(backend Backend, token, userID string, logger *logger.Logger) *Screen {
	return &Screen{
		backend:  backend,
		token:    token,
		userID:   userID,
		logger:   logger,
		now:      time.Now,
		checking: token != "" && userID != "",
	}
}

// WithClock replaces the time source.
func (s *Screen) WithClock(now func() time.Time) *Screen {
	s.now = now
	return s
}

func (s *Screen) authenticated() bool {
	return s.token != "" && s.userID != ""
}

// activeLocked re-checks the eligible record against the clock, so a
// subscription ending while the screen is open stops granting rights.
// s.mu must be held.
func (s *Screen) activeLocked() bool {
	if !s.eligibility.Active {
		return false
	}
	return s.eligibility.Record == nil || IsEligible(*s.eligibility.Record, s.now())
}

// Load runs the mount-time fetches concurrently. A second Load while one
// is running waits for it instead of issuing its own requests.
func (s *Screen) Load(ctx context.Context) {
	_, _, _ = s.flight.Do(opLoad, func() (any, error) {
		s.load(ctx)
		return nil, nil
	})
}

func (s *Screen) load(ctx context.Context) {
	if !s.authenticated() {
		s.mu.Lock()
		s.eligibility = Eligibility{}
		s.checking = false
		s.errMsg = MsgLoginRequired
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.checking = true
	s.errMsg = ""
	s.mu.Unlock()

	var wg conc.WaitGroup
	wg.Go(func() { s.refreshEligibility(ctx) })
	wg.Go(func() { s.refreshUserAppointments(ctx) })
	wg.Go(func() { s.refreshAllAppointments(ctx) })
	wg.Go(func() { s.refreshHolidays(ctx) })
	wg.Go(func() { s.refreshQuota(ctx) })
	wg.Wait()

	s.mu.Lock()
	date := s.selectedDate
	s.mu.Unlock()
	if date != "" {
		s.fetchSlots(ctx, date)
	}
}

// dedupe runs fn under key unless an identical fetch is already running.
// fresh forgets any running fetch first, so mutations never reuse a
// response that started before them.
func (s *Screen) dedupe(key string, fresh bool, fn func() error) error {
	if fresh {
		s.flight.Forget(key)
	}
	_, err, _ := s.flight.Do(key, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (s *Screen) fail(op string, err error) {
	s.logger.Warnw("Booking fetch failed", "op", op, "user_id", s.userID, "error", err)
	s.mu.Lock()
	s.errMsg = fetchMessage(op)
	s.mu.Unlock()
}

func (s *Screen) refreshEligibility(ctx context.Context) {
	err := s.dedupe(opEligibility, false, func() error {
		el, err := CheckEligibility(ctx, s.backend, s.token, s.now())
		s.mu.Lock()
		s.eligibility = el
		s.checking = false
		s.mu.Unlock()
		return err
	})
	if err != nil {
		s.fail(opEligibility, err)
	}
}

func (s *Screen) refreshUserAppointments(ctx context.Context) {
	s.refreshUserAppointmentsFresh(ctx, false)
}

func (s *Screen) refreshUserAppointmentsFresh(ctx context.Context, fresh bool) {
	err := s.dedupe(opUserAppointments, fresh, func() error {
		appts, err := s.backend.UserAppointments(ctx, s.token, s.userID)
		s.mu.Lock()
		s.userAppointments = appts
		s.mu.Unlock()
		return err
	})
	if err != nil {
		s.fail(opUserAppointments, err)
	}
}

func (s *Screen) refreshAllAppointments(ctx context.Context) {
	s.refreshAllAppointmentsFresh(ctx, false)
}

func (s *Screen) refreshAllAppointmentsFresh(ctx context.Context, fresh bool) {
	err := s.dedupe(opAllAppointments, fresh, func() error {
		appts, err := s.backend.AllAppointments(ctx, s.token)
		s.mu.Lock()
		s.allAppointments = appts
		s.mu.Unlock()
		return err
	})
	if err != nil {
		s.fail(opAllAppointments, err)
	}
}

func (s *Screen) refreshHolidays(ctx context.Context) {
	err := s.dedupe(opHolidays, false, func() error {
		holidays, err := s.backend.Holidays(ctx, s.token)
		s.mu.Lock()
		s.holidays = holidays
		s.mu.Unlock()
		return err
	})
	if err != nil {
		s.fail(opHolidays, err)
	}
}

func (s *Screen) refreshQuota(ctx context.Context) {
	s.refreshQuotaFresh(ctx, false)
}

func (s *Screen) refreshQuotaFresh(ctx context.Context, fresh bool) {
	err := s.dedupe(opQuota, fresh, func() error {
		quota, err := s.backend.InterventionLimit(ctx, s.token, s.userID)
		s.mu.Lock()
		s.quota = quota
		s.mu.Unlock()
		return err
	})
	if err != nil {
		s.fail(opQuota, err)
	}
}

// fetchSlots loads the free times for date. Only the response of the most
// recently issued fetch is applied.
func (s *Screen) fetchSlots(ctx context.Context, date string) {
	s.mu.Lock()
	s.slotSeq++
	seq := s.slotSeq
	s.mu.Unlock()

	slots, err := s.backend.AvailableSlots(ctx, s.token, date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.slotSeq {
		s.logger.Debugw("Discarding stale slot response", "date", date, "seq", seq, "latest", s.slotSeq)
		return
	}
	if s.selectedDate != date {
		return
	}
	if err != nil {
		s.logger.Warnw("Booking fetch failed", "op", "slots", "date", date, "error", err)
		s.errMsg = fetchMessage("slots")
		s.slots = nil
		s.selectedTime = ""
		return
	}
	s.slots = slots
	s.selectedTime = PickSlot(s.selectedTime, slots)
}

// SelectDate applies the date gate and, when the date is accepted, loads
// its slots. Rejections never touch the network.
func (s *Screen) SelectDate(ctx context.Context, date string) error {
	day, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	s.mu.Lock()
	switch {
	case !s.authenticated():
		s.mu.Unlock()
		return ErrNotAuthenticated
	case s.checking:
		s.mu.Unlock()
		return ErrEligibilityPending
	case !s.activeLocked():
		s.mu.Unlock()
		return ErrSubscriptionRequired
	}

	today := s.now()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if day.Before(today) {
		s.errMsg = MsgPastDate
		s.mu.Unlock()
		return ErrPastDate
	}
	if IsHoliday(date, s.holidays) {
		s.errMsg = MsgHoliday
		s.mu.Unlock()
		return ErrHolidayDate
	}

	if s.selectedDate != date {
		s.slots = nil
	}
	s.selectedDate = date
	s.errMsg = ""
	s.successMsg = ""
	s.mu.Unlock()

	s.fetchSlots(ctx, date)
	return nil
}

// SelectTime picks one of the offered slots for the selected date.
func (s *Screen) SelectTime(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedDate == "" {
		return ErrNoDateSelected
	}
	if !slices.Contains(OfferableSlots(s.slots, s.quota), slot) {
		return ErrSlotUnavailable
	}
	s.selectedTime = slot
	return nil
}

// Book submits the selected date and time, then reloads the affected
// state from the backend. Local checks run before any network call.
func (s *Screen) Book(ctx context.Context) error {
	s.mu.Lock()
	date, slot, quota := s.selectedDate, s.selectedTime, s.quota
	checking, active := s.checking, s.activeLocked()
	s.mu.Unlock()

	switch {
	case date == "":
		return ErrNoDateSelected
	case slot == "":
		return ErrNoTimeSelected
	case !s.authenticated():
		return ErrNotAuthenticated
	case checking:
		return ErrEligibilityPending
	case !active:
		return ErrSubscriptionRequired
	case quota != nil && quota.Exhausted():
		return ErrQuotaExhausted
	}

	req := models.AppointmentRequest{UserID: s.userID, Date: date, Time: slot}
	if _, err := s.backend.CreateAppointment(ctx, s.token, req); err != nil {
		s.logger.Errorw("Failed to create appointment", "user_id", s.userID, "date", date, "time", slot, "error", err)
		return fmt.Errorf("create appointment: %w", err)
	}
	s.logger.Infow("Appointment booked", "user_id", s.userID, "date", date, "time", slot)

	s.refreshAfterMutation(ctx, date)

	s.mu.Lock()
	s.successMsg = MsgBooked
	s.mu.Unlock()
	return nil
}

// Cancel deletes an appointment the user already confirmed they want
// gone, then reloads the affected state.
func (s *Screen) Cancel(ctx context.Context, appointmentID string) error {
	if !s.authenticated() {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	date := s.selectedDate
	for _, a := range s.userAppointments {
		if string(a.ID) != appointmentID {
			continue
		}
		if !ClassifyAppointment(a.Status).Cancellable() {
			s.mu.Unlock()
			return ErrNotCancellable
		}
		if date == "" {
			date = a.DateKey()
		}
	}
	if date == "" {
		date = s.now().Format(models.DateLayout)
	}
	s.mu.Unlock()

	if err := s.backend.DeleteAppointment(ctx, s.token, appointmentID); err != nil {
		s.logger.Errorw("Failed to cancel appointment", "user_id", s.userID, "appointment_id", appointmentID, "error", err)
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.logger.Infow("Appointment cancelled", "user_id", s.userID, "appointment_id", appointmentID)

	s.refreshAfterMutation(ctx, date)

	s.mu.Lock()
	s.successMsg = MsgCancelled
	s.mu.Unlock()
	return nil
}

// refreshAfterMutation reloads, in order, the user's appointments, the
// full planning, the slots of date and the quota.
func (s *Screen) refreshAfterMutation(ctx context.Context, date string) {
	s.mu.Lock()
	s.errMsg = ""
	s.mu.Unlock()

	s.refreshUserAppointmentsFresh(ctx, true)
	s.refreshAllAppointmentsFresh(ctx, true)
	s.fetchSlots(ctx, date)
	s.refreshQuotaFresh(ctx, true)
}

// View is a snapshot of the screen for rendering.
type View struct {
	Checking         bool
	Eligibility      Eligibility
	Marks            map[string]Mark
	Holidays         []models.Holiday
	SelectedDate     string
	SelectedTime     string
	Slots            []string
	Quota            *models.InterventionQuota
	CanReserve       bool
	Error            string
	Success          string
	UserAppointments []models.Appointment
	AllAppointments  []models.Appointment
}

func (s *Screen) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	offerable := OfferableSlots(s.slots, s.quota)
	active := s.activeLocked()
	v := View{
		Checking:         s.checking,
		Eligibility:      s.eligibility,
		Marks:            BuildMarks(s.selectedDate, s.userAppointments, s.holidays),
		Holidays:         slices.Clone(s.holidays),
		SelectedDate:     s.selectedDate,
		SelectedTime:     s.selectedTime,
		Slots:            offerable,
		Error:            s.errMsg,
		Success:          s.successMsg,
		UserAppointments: slices.Clone(s.userAppointments),
		AllAppointments:  slices.Clone(s.allAppointments),
	}
	if s.quota != nil {
		q := *s.quota
		v.Quota = &q
	}
	v.Eligibility.Active = active
	v.CanReserve = active &&
		!s.checking &&
		s.selectedDate != "" &&
		s.selectedTime != "" &&
		slices.Contains(offerable, s.selectedTime)
	return v
}

// BookedCount is the number of blocking appointments on date across all
// users.
func (v View) BookedCount(date string) int {
	n := 0
	for _, a := range v.AllAppointments {
		if a.DateKey() == date && ClassifyAppointment(a.Status).Blocking() {
			n++
		}
	}
	return n
}
