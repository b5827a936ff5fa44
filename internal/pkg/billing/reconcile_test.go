package billing

import (
	"testing"
	"time"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileWhitelist(t *testing.T) {
	tests := []struct {
		current models.AcademicStatus
		status  string
		want    models.AcademicStatus
		changed bool
		reason  TransitionReason
	}{
		{models.AcademicStatusSuspended, "active", models.AcademicStatusActive, true, ReasonApplied},
		{models.AcademicStatusSuspended, "trialing", models.AcademicStatusActive, true, ReasonApplied},
		{models.AcademicStatusActive, "active", models.AcademicStatusActive, false, ReasonPreconditionNotMet},
		{models.AcademicStatusActive, "canceled", models.AcademicStatusSuspended, true, ReasonApplied},
		{models.AcademicStatusActive, "incomplete_expired", models.AcademicStatusSuspended, true, ReasonApplied},
		{models.AcademicStatusActive, "unpaid", models.AcademicStatusSuspended, true, ReasonApplied},
		{models.AcademicStatusSuspended, "canceled", models.AcademicStatusSuspended, false, ReasonPreconditionNotMet},
		{models.AcademicStatusActive, "past_due", models.AcademicStatusActive, false, ReasonDeferred},
		{models.AcademicStatusSuspended, "past_due", models.AcademicStatusSuspended, false, ReasonDeferred},
		{models.AcademicStatusActive, "incomplete", models.AcademicStatusActive, false, ReasonUnrecognized},
		{models.AcademicStatusSuspended, "paused", models.AcademicStatusSuspended, false, ReasonUnrecognized},
		{models.AcademicStatusActive, "", models.AcademicStatusActive, false, ReasonUnrecognized},
		{models.AcademicStatusSuspended, " ACTIVE ", models.AcademicStatusActive, true, ReasonApplied},
	}

	for _, tt := range tests {
		got := Reconcile(tt.current, tt.status)
		if got.To != tt.want || got.Changed != tt.changed || got.Reason != tt.reason {
			t.Fatalf("Reconcile(%s, %q) = %+v, want to=%s changed=%v reason=%s", tt.current, tt.status, got, tt.want, tt.changed, tt.reason)
		}
		if got.From != tt.current {
			t.Fatalf("Reconcile(%s, %q) from = %s", tt.current, tt.status, got.From)
		}
	}
}

func TestReconcileAbsorbingStates(t *testing.T) {
	statuses := []string{"active", "trialing", "canceled", "incomplete_expired", "unpaid", "past_due", "whatever"}
	for _, current := range []models.AcademicStatus{models.AcademicStatusCompleted, models.AcademicStatusWithdrawn} {
		for _, status := range statuses {
			got := Reconcile(current, status)
			if got.Changed || got.To != current || got.Reason != ReasonAbsorbing {
				t.Fatalf("Reconcile(%s, %q) = %+v, want absorbing no-op", current, status, got)
			}
		}
	}
}

func TestNextPaymentDate(t *testing.T) {
	periodEnd := time.Date(2025, 4, 9, 15, 30, 0, 0, time.UTC).Unix()
	lateEnd := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC).Unix()

	tests := []struct {
		status    string
		periodEnd *int64
		want      string
		apply     bool
	}{
		{"active", &periodEnd, "2025-04-10", true},
		{"trialing", &periodEnd, "2025-04-10", true},
		{"active", &lateEnd, "2026-01-01", true},
		{"active", nil, "", false},
		{"canceled", &periodEnd, "", true},
		{"incomplete_expired", nil, "", true},
		{"past_due", &periodEnd, "", true},
		{"unpaid", &periodEnd, "", true},
		{"incomplete", &periodEnd, "", false},
	}

	for _, tt := range tests {
		got, apply := NextPaymentDate(tt.status, tt.periodEnd)
		if apply != tt.apply {
			t.Fatalf("NextPaymentDate(%q) apply = %v, want %v", tt.status, apply, tt.apply)
		}
		gotStr := ""
		if got != nil {
			gotStr = got.Format("2006-01-02")
		}
		if gotStr != tt.want {
			t.Fatalf("NextPaymentDate(%q) = %q, want %q", tt.status, gotStr, tt.want)
		}
	}
}

func TestCancellationTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	explicit := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC).Unix()

	if got, ok := CancellationTimestamp("active", &explicit, now); !ok || got.Unix() != explicit {
		t.Fatalf("explicit cancel_at not used: %v %v", got, ok)
	}
	if got, ok := CancellationTimestamp("canceled", nil, now); !ok || !got.Equal(now) {
		t.Fatalf("canceled fallback = %v %v, want now", got, ok)
	}
	if got, ok := CancellationTimestamp("incomplete_expired", nil, now); !ok || !got.Equal(now) {
		t.Fatalf("incomplete_expired fallback = %v %v, want now", got, ok)
	}
	if _, ok := CancellationTimestamp("unpaid", nil, now); ok {
		t.Fatalf("unpaid must not set a cancellation timestamp")
	}
	if _, ok := CancellationTimestamp("active", nil, now); ok {
		t.Fatalf("active must not set a cancellation timestamp")
	}
}

func TestCollectionAction(t *testing.T) {
	if CollectionAction(&PauseCollection{Behavior: "void"}) != PauseActionPause {
		t.Fatalf("void must pause")
	}
	if CollectionAction(&PauseCollection{Behavior: "keep_as_draft"}) != PauseActionResume {
		t.Fatalf("keep_as_draft must resume")
	}
	if CollectionAction(nil) != PauseActionResume {
		t.Fatalf("nil must resume")
	}
}

func TestApplySubscriptionStateAlwaysMirrorsStatus(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := &models.Enrollment{SubscriptionID: "sub_1", AcademicStatus: models.AcademicStatusCompleted, SubscriptionStatus: "active"}

	out := ApplySubscriptionState(e, &SubscriptionPayload{ID: "sub_1", Status: "canceled"}, now)

	if !out.Changed {
		t.Fatalf("expected a change")
	}
	if e.SubscriptionStatus != "canceled" {
		t.Fatalf("subscription status = %q, want canceled", e.SubscriptionStatus)
	}
	if e.AcademicStatus != models.AcademicStatusCompleted {
		t.Fatalf("academic status = %s, want COMPLETED", e.AcademicStatus)
	}
}

func TestApplySubscriptionStateIsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC).Unix()
	sub := &SubscriptionPayload{ID: "sub_1", Status: "canceled", CurrentPeriodEnd: &periodEnd, PauseCollection: &PauseCollection{Behavior: "void"}}
	e := &models.Enrollment{SubscriptionID: "sub_1", AcademicStatus: models.AcademicStatusActive}

	first := ApplySubscriptionState(e, sub, now)
	snapshot := *e
	second := ApplySubscriptionState(e, sub, now)

	if !first.Changed {
		t.Fatalf("first application must change the enrollment")
	}
	if second.Changed {
		t.Fatalf("second application must be a no-op, enrollment changed to %+v", e)
	}
	if !e.SubscriptionCancelAt.Equal(*snapshot.SubscriptionCancelAt) {
		t.Fatalf("cancel fallback moved on redelivery")
	}
}

func TestApplySubscriptionStateCancellationFollowsLatestEvent(t *testing.T) {
	received := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	scheduled := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := &models.Enrollment{SubscriptionID: "sub_1", AcademicStatus: models.AcademicStatusActive}

	ApplySubscriptionState(e, &SubscriptionPayload{ID: "sub_1", Status: "active", CancelAt: epoch(scheduled)}, received)
	require.NotNil(t, e.SubscriptionCancelAt)
	assert.True(t, scheduled.Equal(*e.SubscriptionCancelAt))

	out := ApplySubscriptionState(e, &SubscriptionPayload{ID: "sub_1", Status: "active"}, received.Add(time.Minute))
	assert.True(t, out.Changed)
	assert.Nil(t, e.SubscriptionCancelAt, "withdrawn schedule is cleared")

	ApplySubscriptionState(e, &SubscriptionPayload{ID: "sub_1", Status: "active", CancelAt: epoch(scheduled)}, received.Add(2*time.Minute))
	ApplySubscriptionState(e, &SubscriptionPayload{ID: "sub_1", Status: "canceled"}, received.Add(3*time.Minute))
	require.NotNil(t, e.SubscriptionCancelAt)
	assert.True(t, received.Add(3*time.Minute).Equal(*e.SubscriptionCancelAt), "fallback replaces an earlier schedule")
}

func TestApplySubscriptionStateAfterDeletion(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC).Unix()
	e := &models.Enrollment{SubscriptionID: "sub_1", AcademicStatus: models.AcademicStatusActive}
	ApplySubscriptionDeletion(e, now)

	out := ApplySubscriptionState(e, &SubscriptionPayload{ID: "sub_1", Status: "active", CurrentPeriodEnd: &periodEnd}, now)

	if !out.IgnoredDeleted || out.Changed {
		t.Fatalf("update after deletion must be ignored, got %+v", out)
	}
	if e.SubscriptionStatus != "canceled" || e.AcademicStatus != models.AcademicStatusSuspended || e.NextPaymentDate != nil {
		t.Fatalf("deletion state overwritten: %+v", e)
	}
}
