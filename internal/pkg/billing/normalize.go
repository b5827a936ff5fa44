package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizedEvent is an inbound webhook reduced to the canonical schema.
// Exactly one of Subscription or Invoice is set for known event types.
type NormalizedEvent struct {
	EventID      string
	EventType    string
	Subscription *SubscriptionPayload
	Invoice      *InvoicePayload
	PayloadJSON  []byte
}

// NormalizeWebhookPayload accepts either a provider event envelope
// ({"id","type","data":{"object":{...}}}) or a bare object, and resolves every
// correlation id once so handlers read a single field. fallbackType and
// fallbackID come from delivery headers and are used for bare objects.
func NormalizeWebhookPayload(raw []byte, fallbackType, fallbackID string) (*NormalizedEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	var envelope struct {
		ID     string `json:"id"`
		Object string `json:"object"`
		Type   string `json:"type"`
		Data   *struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out := &NormalizedEvent{
		EventID:   strings.TrimSpace(fallbackID),
		EventType: strings.TrimSpace(fallbackType),
	}
	object := json.RawMessage(raw)
	if envelope.Object == "event" || (envelope.Data != nil && len(envelope.Data.Object) > 0) {
		if envelope.Data == nil || len(envelope.Data.Object) == 0 {
			return nil, fmt.Errorf("%w: event without data.object", ErrInvalidPayload)
		}
		object = envelope.Data.Object
		if envelope.ID != "" {
			out.EventID = envelope.ID
		}
		if envelope.Type != "" {
			out.EventType = envelope.Type
		}
	}

	switch {
	case isSubscriptionEvent(out.EventType):
		sub, err := normalizeSubscription(object)
		if err != nil {
			return nil, err
		}
		out.Subscription = sub
		out.PayloadJSON, err = json.Marshal(sub)
		if err != nil {
			return nil, err
		}
	case isInvoiceEvent(out.EventType):
		inv, err := normalizeInvoice(object)
		if err != nil {
			return nil, err
		}
		out.Invoice = inv
		out.PayloadJSON, err = json.Marshal(inv)
		if err != nil {
			return nil, err
		}
	default:
		// Unknown types are stored as-is; Dispatch rejects them.
		var compact bytes.Buffer
		if err := json.Compact(&compact, object); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out.PayloadJSON = compact.Bytes()
	}
	return out, nil
}

func isSubscriptionEvent(t string) bool {
	return strings.HasPrefix(t, "customer.subscription.")
}

func isInvoiceEvent(t string) bool {
	return strings.HasPrefix(t, "invoice.")
}

// idRef decodes a field that is either a plain id string or an expanded
// object carrying an "id".
type idRef string

func (r *idRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = idRef(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = idRef(strings.TrimSpace(obj.ID))
	return nil
}

func normalizeSubscription(object json.RawMessage) (*SubscriptionPayload, error) {
	type rawItem struct {
		CurrentPeriodEnd *int64 `json:"current_period_end"`
	}
	var raw struct {
		ID               string           `json:"id"`
		Object           string           `json:"object"`
		Subscription     idRef            `json:"subscription"`
		Status           string           `json:"status"`
		Customer         idRef            `json:"customer"`
		CurrentPeriodEnd *int64           `json:"current_period_end"`
		CancelAt         *int64           `json:"cancel_at"`
		TrialEnd         *int64           `json:"trial_end"`
		PauseCollection  *PauseCollection `json:"pause_collection"`
		Items            *struct {
			Data []rawItem `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", ErrInvalidPayload, err)
	}

	sub := &SubscriptionPayload{
		ID:               strings.TrimSpace(raw.ID),
		Status:           strings.TrimSpace(raw.Status),
		Customer:         string(raw.Customer),
		CurrentPeriodEnd: raw.CurrentPeriodEnd,
		CancelAt:         raw.CancelAt,
		TrialEnd:         raw.TrialEnd,
		PauseCollection:  raw.PauseCollection,
	}
	// Some shapes nest the subscription under another object; its id then
	// lives in "subscription" rather than "id".
	if raw.Object != "" && raw.Object != "subscription" {
		sub.ID = string(raw.Subscription)
	} else if sub.ID == "" {
		sub.ID = string(raw.Subscription)
	}
	// Newer API versions moved the period end onto the subscription items.
	if sub.CurrentPeriodEnd == nil && raw.Items != nil {
		for _, it := range raw.Items.Data {
			if it.CurrentPeriodEnd != nil && (sub.CurrentPeriodEnd == nil || *it.CurrentPeriodEnd > *sub.CurrentPeriodEnd) {
				v := *it.CurrentPeriodEnd
				sub.CurrentPeriodEnd = &v
			}
		}
	}
	if sub.PauseCollection != nil && strings.TrimSpace(sub.PauseCollection.Behavior) == "" {
		sub.PauseCollection = nil
	}
	return sub, nil
}

func normalizeInvoice(object json.RawMessage) (*InvoicePayload, error) {
	var raw struct {
		ID           string `json:"id"`
		Object       string `json:"object"`
		Invoice      idRef  `json:"invoice"`
		Subscription idRef  `json:"subscription"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription idRef `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
		Customer              idRef              `json:"customer"`
		Lines                 json.RawMessage    `json:"lines"`
		PeriodEnd             *int64             `json:"period_end"`
		AmountDue             int64              `json:"amount_due"`
		AmountPaid            int64              `json:"amount_paid"`
		Currency              string             `json:"currency"`
		LastFinalizationError *FinalizationError `json:"last_finalization_error"`
	}
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", ErrInvalidPayload, err)
	}

	inv := &InvoicePayload{
		ID:                    strings.TrimSpace(raw.ID),
		Subscription:          string(raw.Subscription),
		Customer:              string(raw.Customer),
		PeriodEnd:             raw.PeriodEnd,
		AmountDue:             raw.AmountDue,
		AmountPaid:            raw.AmountPaid,
		Currency:              strings.ToLower(strings.TrimSpace(raw.Currency)),
		LastFinalizationError: raw.LastFinalizationError,
	}
	if raw.Object != "" && raw.Object != "invoice" {
		inv.ID = string(raw.Invoice)
	} else if inv.ID == "" {
		inv.ID = string(raw.Invoice)
	}
	if inv.Subscription == "" && raw.Parent != nil && raw.Parent.SubscriptionDetails != nil {
		inv.Subscription = string(raw.Parent.SubscriptionDetails.Subscription)
	}
	if inv.LastFinalizationError != nil && *inv.LastFinalizationError == (FinalizationError{}) {
		inv.LastFinalizationError = nil
	}

	lines, err := decodeInvoiceLines(raw.Lines)
	if err != nil {
		return nil, err
	}
	inv.Lines = lines
	if inv.PeriodEnd == nil {
		for _, l := range lines {
			if l.PeriodEnd != nil && (inv.PeriodEnd == nil || *l.PeriodEnd > *inv.PeriodEnd) {
				v := *l.PeriodEnd
				inv.PeriodEnd = &v
			}
		}
	}
	return inv, nil
}

// decodeInvoiceLines accepts a list object ({"data":[...]}) or a bare array.
// Absent lines return nil so the invoice counts as incomplete.
func decodeInvoiceLines(b json.RawMessage) ([]InvoiceLine, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}

	type rawLine struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Amount      int64  `json:"amount"`
		Period      *struct {
			End *int64 `json:"end"`
		} `json:"period"`
	}
	var items []rawLine
	if b[0] == '[' {
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, fmt.Errorf("%w: invoice lines: %v", ErrInvalidPayload, err)
		}
	} else {
		var list struct {
			Data []rawLine `json:"data"`
		}
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("%w: invoice lines: %v", ErrInvalidPayload, err)
		}
		items = list.Data
	}

	lines := make([]InvoiceLine, 0, len(items))
	for _, it := range items {
		line := InvoiceLine{ID: it.ID, Description: it.Description, Amount: it.Amount}
		if it.Period != nil {
			line.PeriodEnd = it.Period.End
		}
		lines = append(lines, line)
	}
	return lines, nil
}
