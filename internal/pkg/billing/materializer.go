package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuelReschke/EnrollSync/app/models"
)

// OrderMaterializer turns an invoice into its local Order. Implementations
// must be idempotent on the invoice id. A nil Order means nothing was created.
type OrderMaterializer interface {
	CreateOrUpdateOrderFromInvoice(ctx context.Context, invoice *InvoicePayload) (*models.Order, error)
}

type repositoryOrderMaterializer struct {
	repo Repository
}

// NewOrderMaterializer creates the default materializer that upserts orders
// through the billing repository and links them to enrollments.
func NewOrderMaterializer(repo Repository) OrderMaterializer {
	return &repositoryOrderMaterializer{repo: repo}
}

func (m *repositoryOrderMaterializer) CreateOrUpdateOrderFromInvoice(ctx context.Context, invoice *InvoicePayload) (*models.Order, error) {
	if invoice == nil || invoice.ID == "" {
		return nil, ErrMissingInvoiceID
	}

	raw, err := json.Marshal(invoice)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		SourceInvoiceID: invoice.ID,
		SubscriptionID:  invoice.Subscription,
		CustomerID:      invoice.Customer,
		AmountDue:       invoice.AmountDue,
		AmountPaid:      invoice.AmountPaid,
		Currency:        invoice.Currency,
		PaymentStatus:   models.PaymentStatusPending,
		PeriodEnd:       epochToTime(invoice.PeriodEnd),
		RawInvoiceJSON:  raw,
	}

	if invoice.Subscription != "" {
		enrollment, err := m.repo.FindEnrollmentBySubscriptionID(ctx, invoice.Subscription)
		switch {
		case err == nil:
			order.EnrollmentID = &enrollment.ID
		case !isNotFound(err):
			return nil, fmt.Errorf("lookup enrollment for invoice %s: %w", invoice.ID, err)
		}
	}

	if err := order.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order for invoice %s: %w", invoice.ID, err)
	}
	return m.repo.UpsertOrder(ctx, order)
}
