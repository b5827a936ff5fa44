package billing

import (
	"context"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/ManuelReschke/EnrollSync/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
)

func (s *Service) handleInvoiceSucceeded(ctx context.Context, entry *models.WebhookEvent) Result {
	return s.handleInvoice(ctx, entry, true)
}

func (s *Service) handleInvoiceFailed(ctx context.Context, entry *models.WebhookEvent) Result {
	return s.handleInvoice(ctx, entry, false)
}

func (s *Service) handleInvoice(ctx context.Context, entry *models.WebhookEvent, succeeded bool) Result {
	inv, err := decodeInvoice(entry)
	if err != nil {
		return PermanentFailure(err.Error())
	}
	if inv.ID == "" {
		return PermanentFailure(ErrMissingInvoiceID.Error())
	}

	inv = s.completeInvoice(ctx, inv)

	order, err := s.orders.CreateOrUpdateOrderFromInvoice(ctx, inv)
	if err != nil {
		return TransientFailure(err)
	}
	if order == nil {
		log.Warnf("[Billing] No order materialized for invoice %s", inv.ID)
		return ProcessedWithNote("no order materialized for invoice " + inv.ID)
	}

	now := s.now()
	if !succeeded {
		reason := models.FailureReason{}
		if fe := inv.LastFinalizationError; fe != nil {
			reason.Code = fe.Code
			reason.Message = fe.Message
		}
		applied := false
		if _, err := s.repo.UpdateOrder(ctx, order.SourceInvoiceID, func(o *models.Order) {
			applied = o.MarkFailed(reason)
		}); err != nil {
			return TransientFailure(err)
		}
		if !applied {
			log.Infof("[Billing] Ignored payment failure for paid invoice %s (order %d)", inv.ID, order.ID)
			return ProcessedWithNote("invoice " + inv.ID + " already paid")
		}
		log.Infof("[Billing] Invoice %s payment failed (order %d)", inv.ID, order.ID)
		return Processed()
	}

	order, err = s.repo.UpdateOrder(ctx, order.SourceInvoiceID, func(o *models.Order) {
		o.MarkPaid(now)
	})
	if err != nil {
		return TransientFailure(err)
	}

	if order.EnrollmentID != nil {
		_, err := s.repo.UpdateEnrollmentByID(ctx, *order.EnrollmentID, func(e *models.Enrollment) (bool, error) {
			if e.IsSubscriptionDeleted() {
				return false, nil
			}
			// A paid invoice means the subscription is current, whatever the mirror still says.
			date, apply := NextPaymentDate(SubscriptionStatusActive, inv.PeriodEnd)
			if !apply {
				return false, nil
			}
			return e.UpdateNextPaymentDate(date), nil
		})
		if err != nil && !isNotFound(err) {
			return TransientFailure(err)
		}
	}

	log.Infof("[Billing] Invoice %s paid (order %d)", inv.ID, order.ID)
	return Processed()
}

// completeInvoice re-fetches an invoice without line items once. Provider
// errors are logged and the original payload is used.
func (s *Service) completeInvoice(ctx context.Context, inv *InvoicePayload) *InvoicePayload {
	if inv.IsComplete() || s.provider == nil {
		return inv
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	full, err := s.provider.RetrieveInvoice(fetchCtx, inv.ID, []string{"lines"})
	if err != nil {
		metrics.ProviderRefetchFailures.Inc()
		log.Warnf("[Billing] Re-fetch of invoice %s failed, continuing with webhook payload: %v", inv.ID, err)
		return inv
	}
	if full.Subscription == "" {
		full.Subscription = inv.Subscription
	}
	if full.PeriodEnd == nil {
		full.PeriodEnd = inv.PeriodEnd
	}
	if full.LastFinalizationError == nil {
		full.LastFinalizationError = inv.LastFinalizationError
	}
	return full
}
