package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuelReschke/EnrollSync/app/models"
	"github.com/gofiber/fiber/v2/log"
)

type handlerFunc func(s *Service, ctx context.Context, entry *models.WebhookEvent) Result

var handlers = map[string]handlerFunc{
	EventSubscriptionCreated:   (*Service).handleSubscriptionCreated,
	EventSubscriptionUpdated:   (*Service).handleSubscriptionUpdated,
	EventSubscriptionDeleted:   (*Service).handleSubscriptionDeleted,
	EventSubscriptionTrialEnds: (*Service).handleTrialWillEnd,
	EventInvoiceSucceeded:      (*Service).handleInvoiceSucceeded,
	EventInvoicePaid:           (*Service).handleInvoiceSucceeded,
	EventInvoiceFailed:         (*Service).handleInvoiceFailed,
}

// IsSupportedEventType reports whether Dispatch has a handler for t.
func IsSupportedEventType(t string) bool {
	_, ok := handlers[t]
	return ok
}

// Dispatch routes the entry to exactly one handler. Unknown types fail
// permanently; handler panics become transient failures.
func (s *Service) Dispatch(ctx context.Context, entry *models.WebhookEvent) (res Result) {
	h, ok := handlers[entry.EventType]
	if !ok {
		log.Warnf("[Billing] Unsupported event type %q for ledger entry %d", entry.EventType, entry.ID)
		return PermanentFailure(ErrUnsupportedEventType.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Billing] Handler for %s panicked on ledger entry %d: %v", entry.EventType, entry.ID, r)
			res = TransientFailure(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return h(s, ctx, entry)
}

func decodeSubscription(entry *models.WebhookEvent) (*SubscriptionPayload, error) {
	var sub SubscriptionPayload
	if err := json.Unmarshal(entry.PayloadJSON, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &sub, nil
}

func decodeInvoice(entry *models.WebhookEvent) (*InvoicePayload, error) {
	var inv InvoicePayload
	if err := json.Unmarshal(entry.PayloadJSON, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &inv, nil
}
