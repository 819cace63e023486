package booking

import (
	"context"
	"errors"
	"time"

	"freezy-bot/internal/models"
)

// validStatuses are the normalized subscription statuses that grant
// booking rights.
var validStatuses = map[string]struct{}{
	"succeeded":               {},
	"active":                  {},
	"paid":                    {},
	"completed":               {},
	"active_until_period_end": {},
}

// IsEligible reports whether one record grants booking rights at now.
// The end date must be strictly after now; an unreadable end date never
// is. IsCanceled is not consulted: a cancelled subscription
// stays usable until its end date.
func IsEligible(r models.SubscriptionRecord, now time.Time) bool {
	if !r.IsActive {
		return false
	}
	if _, ok := validStatuses[NormalizeStatus(r.Status)]; !ok {
		return false
	}
	end := r.EndDate()
	if end == "" {
		return true
	}
	t, ok := models.ParseDate(end)
	return ok && t.After(now)
}

// FirstEligible returns the first record in records that grants rights.
func FirstEligible(records []models.SubscriptionRecord, now time.Time) (models.SubscriptionRecord, bool) {
	for _, r := range records {
		if IsEligible(r, now) {
			return r, true
		}
	}
	return models.SubscriptionRecord{}, false
}

// PaymentRecords projects billing lines onto their subscription fields.
func PaymentRecords(payments []models.Payment) []models.SubscriptionRecord {
	out := make([]models.SubscriptionRecord, 0, len(payments))
	for _, p := range payments {
		out = append(out, p.SubscriptionRecord)
	}
	return out
}

// Source names the endpoint an eligibility decision came from.
type Source string

const (
	SourceNone          Source = ""
	SourceSubscriptions Source = "subscriptions"
	SourcePayments      Source = "payments"
)

// Eligibility is the outcome of the subscription check.
type Eligibility struct {
	Active bool
	Record *models.SubscriptionRecord
	Source Source
}

// SubscriptionSource is the part of the backend the eligibility check reads.
type SubscriptionSource interface {
	ActiveSubscriptions(ctx context.Context, token string) ([]models.SubscriptionRecord, error)
	PaymentHistory(ctx context.Context, token string) ([]models.Payment, error)
}

// CheckEligibility asks the active-subscriptions endpoint first and falls
// back to the payment history when it fails or holds no eligible record.
// The error is only non-nil when no source produced an eligible record
// and at least one source failed.
func CheckEligibility(ctx context.Context, src SubscriptionSource, token string, now time.Time) (Eligibility, error) {
	var errs []error

	subs, err := src.ActiveSubscriptions(ctx, token)
	if err != nil {
		errs = append(errs, err)
	} else if r, ok := FirstEligible(subs, now); ok {
		return Eligibility{Active: true, Record: &r, Source: SourceSubscriptions}, nil
	}

	payments, err := src.PaymentHistory(ctx, token)
	if err != nil {
		errs = append(errs, err)
	} else if r, ok := FirstEligible(PaymentRecords(payments), now); ok {
		return Eligibility{Active: true, Record: &r, Source: SourcePayments}, nil
	}

	return Eligibility{}, errors.Join(errs...)
}
