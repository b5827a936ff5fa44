package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/EnrollSync/app/models"
)

// TransitionReason explains why Reconcile did or did not move the academic status.
type TransitionReason string

const (
	ReasonApplied             TransitionReason = "applied"
	ReasonAbsorbing           TransitionReason = "absorbing_state"
	ReasonDeferred            TransitionReason = "deferred"
	ReasonUnrecognized        TransitionReason = "unrecognized_status"
	ReasonPreconditionNotMet  TransitionReason = "precondition_not_met"
	ReasonSubscriptionDeleted TransitionReason = "subscription_deleted"
)

// Transition is the result of Reconcile.
type Transition struct {
	From    models.AcademicStatus
	To      models.AcademicStatus
	Changed bool
	Reason  TransitionReason
}

// Reconcile maps a provider subscription status onto the academic status.
// COMPLETED and WITHDRAWN never change; otherwise only SUSPENDED->ACTIVE on
// active/trialing and ACTIVE->SUSPENDED on canceled/incomplete_expired/unpaid
// are allowed.
func Reconcile(current models.AcademicStatus, providerStatus string) Transition {
	t := Transition{From: current, To: current}
	if current.IsAbsorbing() {
		t.Reason = ReasonAbsorbing
		return t
	}

	switch normalizeStatus(providerStatus) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		if current == models.AcademicStatusSuspended {
			t.To = models.AcademicStatusActive
		}
	case SubscriptionStatusCanceled, SubscriptionStatusIncompleteExpired, SubscriptionStatusUnpaid:
		if current == models.AcademicStatusActive {
			t.To = models.AcademicStatusSuspended
		}
	case SubscriptionStatusPastDue:
		t.Reason = ReasonDeferred
		return t
	default:
		t.Reason = ReasonUnrecognized
		return t
	}

	if t.To == t.From {
		t.Reason = ReasonPreconditionNotMet
		return t
	}
	t.Changed = true
	t.Reason = ReasonApplied
	return t
}

// NextPaymentDate derives next_payment_date from a provider status. apply is
// false when the status leaves the stored date untouched.
func NextPaymentDate(status string, periodEnd *int64) (date *time.Time, apply bool) {
	switch normalizeStatus(status) {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		end := epochToTime(periodEnd)
		if end == nil {
			return nil, false
		}
		next := end.AddDate(0, 0, 1)
		day := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, time.UTC)
		return &day, true
	case SubscriptionStatusCanceled, SubscriptionStatusIncompleteExpired, SubscriptionStatusPastDue, SubscriptionStatusUnpaid:
		return nil, true
	default:
		return nil, false
	}
}

// CancellationTimestamp returns the explicit cancel_at, or now for
// canceled/incomplete_expired payloads that carry none.
func CancellationTimestamp(status string, cancelAt *int64, now time.Time) (time.Time, bool) {
	if at := epochToTime(cancelAt); at != nil {
		return *at, true
	}
	switch normalizeStatus(status) {
	case SubscriptionStatusCanceled, SubscriptionStatusIncompleteExpired:
		return now.UTC(), true
	}
	return time.Time{}, false
}

// PauseAction is the collection directive derived from pause_collection.
type PauseAction int

const (
	PauseActionResume PauseAction = iota
	PauseActionPause
)

func CollectionAction(p *PauseCollection) PauseAction {
	if p != nil && strings.EqualFold(strings.TrimSpace(p.Behavior), PauseBehaviorVoid) {
		return PauseActionPause
	}
	return PauseActionResume
}

// SubscriptionOutcome summarizes the changes applied to one enrollment.
type SubscriptionOutcome struct {
	Transition     Transition
	Changed        bool
	IgnoredDeleted bool
}

// ApplySubscriptionState applies a subscription snapshot to the enrollment in
// memory. now must be the time the event was received. Once the subscription was deleted, only the collection pause is
// evaluated so updated and deleted events converge regardless of order.
func ApplySubscriptionState(e *models.Enrollment, sub *SubscriptionPayload, now time.Time) SubscriptionOutcome {
	out := SubscriptionOutcome{}

	if e.IsSubscriptionDeleted() {
		out.IgnoredDeleted = true
		out.Transition = Transition{From: e.AcademicStatus, To: e.AcademicStatus, Reason: ReasonSubscriptionDeleted}
		out.Changed = applyCollectionAction(e, sub.PauseCollection, now)
		return out
	}

	if e.UpdateSubscriptionStatus(sub.Status) {
		out.Changed = true
	}

	out.Transition = Reconcile(e.AcademicStatus, sub.Status)
	if out.Transition.Changed && e.SetAcademicStatus(out.Transition.To) {
		out.Changed = true
	}

	if date, apply := NextPaymentDate(sub.Status, sub.CurrentPeriodEnd); apply {
		if e.UpdateNextPaymentDate(date) {
			out.Changed = true
		}
	}

	// now is the entry's receipt time, so a redelivered event writes the same value.
	if at, ok := CancellationTimestamp(sub.Status, sub.CancelAt, now); ok {
		if e.UpdateSubscriptionCancellation(at) {
			out.Changed = true
		}
	} else if e.ClearSubscriptionCancellation() {
		out.Changed = true
	}

	if applyCollectionAction(e, sub.PauseCollection, now) {
		out.Changed = true
	}
	return out
}

// ApplySubscriptionDeletion cancels the enrollment's subscription. The first
// deletion time is reused on redelivery.
func ApplySubscriptionDeletion(e *models.Enrollment, now time.Time) SubscriptionOutcome {
	out := SubscriptionOutcome{}
	if e.MarkSubscriptionDeleted(now) {
		out.Changed = true
	}
	if e.UpdateSubscriptionStatus(SubscriptionStatusCanceled) {
		out.Changed = true
	}
	if e.UpdateNextPaymentDate(nil) {
		out.Changed = true
	}
	if e.UpdateSubscriptionCancellation(*e.SubscriptionDeletedAt) {
		out.Changed = true
	}
	out.Transition = Reconcile(e.AcademicStatus, SubscriptionStatusCanceled)
	if out.Transition.Changed && e.SetAcademicStatus(out.Transition.To) {
		out.Changed = true
	}
	return out
}

func applyCollectionAction(e *models.Enrollment, p *PauseCollection, now time.Time) bool {
	if CollectionAction(p) == PauseActionPause {
		return e.PauseCollection(now.UTC().Truncate(time.Second))
	}
	return e.ResumeCollection()
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
