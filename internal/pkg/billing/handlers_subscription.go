package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

func (s *Service) handleSubscriptionCreated(ctx context.Context, entry *models.WebhookEvent) Result {
	return s.syncSubscription(ctx, entry)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, entry *models.WebhookEvent) Result {
	return s.syncSubscription(ctx, entry)
}

func (s *Service) syncSubscription(ctx context.Context, entry *models.WebhookEvent) Result {
	sub, err := decodeSubscription(entry)
	if err != nil {
		return PermanentFailure(err.Error())
	}
	if sub.ID == "" {
		return PermanentFailure(ErrMissingSubscriptionID.Error())
	}

	now := s.receivedAt(entry)
	var outcome SubscriptionOutcome
	_, err = s.repo.UpdateEnrollment(ctx, sub.ID, func(e *models.Enrollment) (bool, error) {
		outcome = ApplySubscriptionState(e, sub, now)
		return outcome.Changed, nil
	})
	if err != nil {
		if isNotFound(err) {
			log.Warnf("[Billing] No enrollment for subscription %s (%s)", sub.ID, entry.EventType)
			return ProcessedWithNote("no enrollment for subscription " + sub.ID)
		}
		return TransientFailure(err)
	}

	if outcome.IgnoredDeleted {
		log.Infof("[Billing] Ignored %s for deleted subscription %s", entry.EventType, sub.ID)
	}
	s.observeTransition(sub.ID, sub.Status, outcome.Transition)
	return Processed()
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, entry *models.WebhookEvent) Result {
	sub, err := decodeSubscription(entry)
	if err != nil {
		return PermanentFailure(err.Error())
	}
	if sub.ID == "" {
		return PermanentFailure(ErrMissingSubscriptionID.Error())
	}

	now := s.receivedAt(entry)
	var outcome SubscriptionOutcome
	_, err = s.repo.UpdateEnrollment(ctx, sub.ID, func(e *models.Enrollment) (bool, error) {
		outcome = ApplySubscriptionDeletion(e, now)
		return outcome.Changed, nil
	})
	if err != nil {
		if isNotFound(err) {
			log.Warnf("[Billing] Deleted subscription %s has no enrollment", sub.ID)
			return ProcessedWithNote("no enrollment for subscription " + sub.ID)
		}
		return TransientFailure(err)
	}

	s.observeTransition(sub.ID, SubscriptionStatusCanceled, outcome.Transition)
	return Processed()
}

func (s *Service) handleTrialWillEnd(ctx context.Context, entry *models.WebhookEvent) Result {
	sub, err := decodeSubscription(entry)
	if err != nil {
		return PermanentFailure(err.Error())
	}
	if sub.ID == "" {
		return PermanentFailure(ErrMissingSubscriptionID.Error())
	}
	trialEnd := epochToTime(sub.TrialEnd)
	if trialEnd == nil {
		log.Infof("[Billing] Trial ending for subscription %s without trial_end", sub.ID)
		return Processed()
	}

	_, err = s.repo.UpdateEnrollment(ctx, sub.ID, func(e *models.Enrollment) (bool, error) {
		return e.UpdateTrialEnd(*trialEnd), nil
	})
	if err != nil {
		if isNotFound(err) {
			log.Warnf("[Billing] Trial ending for subscription %s has no enrollment", sub.ID)
			return ProcessedWithNote("no enrollment for subscription " + sub.ID)
		}
		return TransientFailure(err)
	}
	log.Infof("[Billing] Trial for subscription %s ends at %s", sub.ID, trialEnd.Format(time.RFC3339))
	return Processed()
}

func (s *Service) observeTransition(subscriptionID, providerStatus string, t Transition) {
	switch t.Reason {
	case ReasonApplied:
		log.Infof("[Billing] Subscription %s: academic status %s -> %s (%s)", subscriptionID, t.From, t.To, providerStatus)
		metrics.AcademicTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	case ReasonUnrecognized:
		log.Warnf("[Billing] Subscription %s: unrecognized provider status %q", subscriptionID, providerStatus)
		metrics.UnrecognizedStatuses.WithLabelValues(providerStatus).Inc()
	case ReasonAbsorbing:
		log.Debugf("[Billing] Subscription %s: academic status %s is final", subscriptionID, t.From)
	case ReasonDeferred:
		log.Debugf("[Billing] Subscription %s: status %s deferred", subscriptionID, providerStatus)
	}
}

// receivedAt is the time the ledger entry was recorded. Timestamps derived
// from it stay stable across retries and replays.
func (s *Service) receivedAt(entry *models.WebhookEvent) time.Time {
	if entry.CreatedAt.IsZero() {
		return s.now()
	}
	return entry.CreatedAt.UTC()
}
