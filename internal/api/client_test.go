package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"freezy-bot/internal/models"
	"freezy-bot/internal/session"
	"freezy-bot/pkg/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupBackend(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL+"/", 5*time.Second, logger.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_NormalizesNestedUser(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("login must not send Authorization")
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		var creds models.Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Email != "lea@freezy.fr" {
			t.Errorf("email = %q", creds.Email)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "tok-1",
			"user": map[string]any{
				"utilisateur": map[string]any{"_id": "u1", "email": "lea@freezy.fr", "prenom": "Léa"},
			},
		})
	})

	res, err := client.Login(context.Background(), models.Credentials{Email: "lea@freezy.fr", Password: "pw"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Token != "tok-1" {
		t.Errorf("Token = %q", res.Token)
	}
	if res.User.ID != "u1" || res.User.Prenom != "Léa" {
		t.Errorf("User = %+v", res.User)
	}
}

func TestLogin_BackendMessage(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Identifiants invalides"})
	})

	_, err := client.Login(context.Background(), models.Credentials{Email: "x", Password: "y"})
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if UserMessage(err) != "Identifiants invalides" {
		t.Errorf("UserMessage() = %q", UserMessage(err))
	}
}

func TestUserMessage_Fallback(t *testing.T) {
	if got := UserMessage(errors.New("dial tcp: refused")); got != GenericErrorMessage {
		t.Errorf("UserMessage() = %q", got)
	}
	if got := UserMessage(&Error{Op: "x", StatusCode: 500}); got != GenericErrorMessage {
		t.Errorf("UserMessage() = %q", got)
	}
}

func TestMissingTokenShortCircuits(t *testing.T) {
	called := false
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := client.UserAppointments(context.Background(), "", "u1")
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("error = %v, want ErrMissingToken", err)
	}
	if called {
		t.Error("backend must not be called without a token")
	}
}

func TestBearerTokenSent(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		writeJSON(w, http.StatusOK, []any{})
	})
	if _, err := client.Holidays(context.Background(), "tok"); err != nil {
		t.Fatalf("Holidays() error = %v", err)
	}
}

func TestAvailableSlots_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"strings", `["09:00","10:30"]`, []string{"09:00", "10:30"}},
		{"objects", `[{"heure":"09:00"},{"heure":"11:00","available":false},{"time":"14:00"}]`, []string{"09:00", "14:00"}},
		{"wrapped", `{"slots":["08:00"]}`, []string{"08:00"}},
		{"empty", `[]`, []string{}},
		{"malformed", `{"oops":true}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/rendezvous/available" {
					t.Errorf("path = %q", r.URL.Path)
				}
				if r.URL.Query().Get("date") != "2026-03-02" {
					t.Errorf("date = %q", r.URL.Query().Get("date"))
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tt.body)
			})
			got, err := client.AvailableSlots(context.Background(), "tok", "2026-03-02")
			if err != nil {
				t.Fatalf("AvailableSlots() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("AvailableSlots() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("slot[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHolidays_BareDates(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `["2026-05-01T00:00:00.000Z","2026-05-08"]`)
	})
	got, err := client.Holidays(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Holidays() error = %v", err)
	}
	if len(got) != 2 || got[0].DateKey() != "2026-05-01" || got[1].DateKey() != "2026-05-08" {
		t.Errorf("Holidays() = %+v", got)
	}
}

func TestPaymentHistory_NonArrayIsEmpty(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"nothing here"`)
	})
	got, err := client.PaymentHistory(context.Background(), "tok")
	if err != nil {
		t.Fatalf("PaymentHistory() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("PaymentHistory() = %+v", got)
	}
}

func TestPaymentHistory_DecodesSubscriptionFields(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"p1","isActive":true,"status":"succeeded","dateFin":"2099-01-01","paymentIntentId":"pi_1","currency":"eur"}]`)
	})
	got, err := client.PaymentHistory(context.Background(), "tok")
	if err != nil {
		t.Fatalf("PaymentHistory() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	p := got[0]
	if !p.IsActive || p.Status != "succeeded" || p.EndDate() != "2099-01-01" || p.PaymentIntentID != "pi_1" {
		t.Errorf("payment = %+v", p)
	}
}

func TestDeleteAppointment(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/rendezvous/a-1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.DeleteAppointment(context.Background(), "tok", "a-1"); err != nil {
		t.Fatalf("DeleteAppointment() error = %v", err)
	}
}

func TestInterventionLimit(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.InterventionQuota{Allowed: false, Used: 4, Max: 4, Reason: "Quota atteint"})
	})
	q, err := client.InterventionLimit(context.Background(), "tok", "u1")
	if err != nil {
		t.Fatalf("InterventionLimit() error = %v", err)
	}
	if q.Allowed || q.Reason != "Quota atteint" {
		t.Errorf("quota = %+v", q)
	}
}

func TestUserAppointments_NumericIDsAndBadElement(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":17,"date":"2026-03-10","heure":"09:00","status":"Confirmé","user":"u1"},
			{"id":"a2","date":"2026-03-11","heure":"10:00","status":"non confirmé","user":{"_id":"u1"}},
			{"id":{"bad":true},"date":"2026-03-12","heure":"11:00","status":"Confirmé"}
		]`)
	})
	got, err := client.UserAppointments(context.Background(), "tok", "u1")
	if err != nil {
		t.Fatalf("UserAppointments() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("UserAppointments() = %+v, want 2 appointments", got)
	}
	if got[0].ID != "17" || got[1].ID != "a2" {
		t.Errorf("ids = %q, %q", got[0].ID, got[1].ID)
	}
	if got[0].DateKey() != "2026-03-10" || got[1].DateKey() != "2026-03-11" {
		t.Errorf("dates = %q, %q", got[0].DateKey(), got[1].DateKey())
	}
}

func TestListComments_ZonelessDates(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"commentaires":[
			{"id":3,"nom":"Léa","contenu":"Parfait","createdAt":"2026-03-10T09:00:00"},
			{"id":"c4","nom":"Marc","contenu":"Rapide","createdAt":"2026-03-11T08:30:00.000Z"}
		]}`)
	})
	got, err := client.ListComments(context.Background(), "tok")
	if err != nil {
		t.Fatalf("ListComments() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListComments() = %+v, want 2 comments", got)
	}
	if got[0].ID != "3" {
		t.Errorf("ID = %q", got[0].ID)
	}
	created, ok := got[0].Created()
	if !ok || !created.Equal(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Created() = %v, %v", created, ok)
	}
}

func TestDecodeList_CountsDropped(t *testing.T) {
	items, dropped, err := decodeList[models.SubscriptionRecord](json.RawMessage(`[{"id":1,"status":"active"},{"status":42}]`))
	if len(items) != 1 || items[0].ID != "1" {
		t.Errorf("items = %+v", items)
	}
	if dropped != 1 || err == nil {
		t.Errorf("dropped = %d, err = %v", dropped, err)
	}
}

func TestRegister_AcknowledgementOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"message": "Compte créé"})
	}))
	t.Cleanup(server.Close)
	client := New(server.URL, 5*time.Second, &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	res, err := client.Register(context.Background(), models.Registration{Email: "lea@freezy.fr", Nom: "Martin", Prenom: "Léa"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.Token != "" || res.User.Email != "lea@freezy.fr" || res.User.Prenom != "Léa" {
		t.Errorf("Register() = %+v", res)
	}
	if logs.FilterMessage("Registration acknowledged without user").Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}
}

func TestUpdateProfile_AcknowledgementOnly(t *testing.T) {
	client := setupBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/users/u1" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	})

	_, err := client.UpdateProfile(context.Background(), "tok", "u1", models.ProfileUpdate{Telephone: "0601020304"})
	if !errors.Is(err, session.ErrNoUser) {
		t.Errorf("UpdateProfile() error = %v, want %v", err, session.ErrNoUser)
	}
}
