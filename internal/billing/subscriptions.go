package billing

import (
	"context"
	"log/slog"

	"billingsync/internal/metrics"
	"billingsync/internal/types"
)

// SubscriptionStore loads and conditionally updates subscriptions.
type SubscriptionStore interface {
	GetByProviderID(ctx context.Context, providerSubID string) (*types.Subscription, error)
	ApplyUpdate(ctx context.Context, providerSubID string, upd types.SubscriptionUpdate) (bool, error)
}

// InvoiceStore records invoices once per payment id.
type InvoiceStore interface {
	Record(ctx context.Context, inv *types.Invoice) (bool, error)
}

// SubscriptionOutcome says what a subscription event did.
type SubscriptionOutcome string

const (
	OutcomeApplied              SubscriptionOutcome = "applied"
	OutcomeTransitionSkipped    SubscriptionOutcome = "transition_skipped"
	OutcomeSubscriptionNotFound SubscriptionOutcome = "subscription_not_found"
)

// SubscriptionResult is the explicit result of applying a subscription event.
type SubscriptionResult struct {
	Outcome        SubscriptionOutcome
	SubscriptionID string
	From           types.SubscriptionStatus
	To             types.SubscriptionStatus
	InvoiceID      string
	InvoiceCreated bool
}

// SubscriptionMachine drives subscription status from provider events along
// the edges in types.AllowedPredecessors. The store enforces the same edges
// in SQL, so a stale read can only cause a skipped update, never a
// regression.
type SubscriptionMachine struct {
	subs     SubscriptionStore
	invoices InvoiceStore
	audit    Auditor
	metrics  metrics.Recorder
	clock    types.Clock
	logger   *slog.Logger
}

// NewSubscriptionMachine creates a SubscriptionMachine. rec, clock and
// logger may be nil.
func NewSubscriptionMachine(subs SubscriptionStore, invoices InvoiceStore, audit Auditor, rec metrics.Recorder, clock types.Clock, logger *slog.Logger) *SubscriptionMachine {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SubscriptionMachine{
		subs:     subs,
		invoices: invoices,
		audit:    audit,
		metrics:  rec,
		clock:    clock,
		logger:   logger,
	}
}

// Apply handles every subscription event except subscription.charged.
func (m *SubscriptionMachine) Apply(ctx context.Context, evt SubscriptionEvent) (SubscriptionResult, error) {
	target, ok := subscriptionTargets[evt.Event]
	if !ok {
		return SubscriptionResult{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			"no target status for "+string(evt.Event), nil)
	}

	sub, res, err := m.load(ctx, evt.Event, evt.Subscription.ID)
	if sub == nil {
		return res, err
	}

	upd := types.SubscriptionUpdate{Status: target}
	switch evt.Event {
	case EventSubscriptionActivated, EventSubscriptionResumed:
		upd.CurrentPeriodStart = epochToTime(evt.Subscription.CurrentStart)
		upd.CurrentPeriodEnd = epochToTime(evt.Subscription.CurrentEnd)
		upd.NextBillingAt = epochToTime(evt.Subscription.ChargeAt)
		upd.PaidCount = evt.Subscription.PaidCount.intPtr()
		upd.RemainingCount = evt.Subscription.RemainingCount.intPtr()
	case EventSubscriptionCancelled:
		upd.ClearCancelAtEnd = true
	}

	return m.transition(ctx, evt.Event, sub, upd)
}

// Charge handles subscription.charged: it records the invoice for the
// payment, then keeps the subscription active and advances its billing
// period. A redelivered charge finds the invoice already present and
// re-applies the same period values.
func (m *SubscriptionMachine) Charge(ctx context.Context, evt SubscriptionCharged) (SubscriptionResult, error) {
	sub, res, err := m.load(ctx, EventSubscriptionCharged, evt.Subscription.ID)
	if sub == nil {
		return res, err
	}

	inv := &types.Invoice{
		SubscriptionID:     sub.ID,
		PaymentID:          evt.Payment.ID,
		AmountMinor:        evt.Payment.Amount,
		Currency:           evt.Payment.Currency,
		BillingPeriodStart: epochToTime(evt.Subscription.CurrentStart),
		BillingPeriodEnd:   epochToTime(evt.Subscription.CurrentEnd),
		Status:             types.InvoiceStatusPaid,
		PaymentMethod:      evt.Payment.Method,
		PaidAt:             m.clock.Now(),
	}
	created, err := m.invoices.Record(ctx, inv)
	if err != nil {
		return SubscriptionResult{SubscriptionID: sub.ID}, err
	}

	invoiceAttrs := types.Attributes{
		"subscription_id":          sub.ID,
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"payment_id":               evt.Payment.ID,
		"amount_minor":             evt.Payment.Amount,
		"currency":                 evt.Payment.Currency,
	}
	if created {
		invoiceAttrs["invoice_id"] = inv.ID
		m.audit.LogEvent(ctx, types.AuditInvoiceRecorded, invoiceAttrs)
	} else {
		m.audit.LogEvent(ctx, types.AuditInvoiceDuplicate, invoiceAttrs)
	}

	res, err = m.transition(ctx, EventSubscriptionCharged, sub, types.SubscriptionUpdate{
		Status:             types.SubStatusActive,
		CurrentPeriodStart: inv.BillingPeriodStart,
		CurrentPeriodEnd:   inv.BillingPeriodEnd,
		NextBillingAt:      epochToTime(evt.Subscription.ChargeAt),
		PaidCount:          evt.Subscription.PaidCount.intPtr(),
		RemainingCount:     evt.Subscription.RemainingCount.intPtr(),
	})
	res.InvoiceCreated = created
	if created {
		res.InvoiceID = inv.ID
	}
	return res, err
}

// load returns the subscription, or a nil subscription with the result to
// return when it does not exist.
func (m *SubscriptionMachine) load(ctx context.Context, event EventName, providerSubID string) (*types.Subscription, SubscriptionResult, error) {
	sub, err := m.subs.GetByProviderID(ctx, providerSubID)
	if err == nil {
		return sub, SubscriptionResult{}, nil
	}
	if types.CodeOf(err) != types.ErrCodeNotFoundSubscription {
		return nil, SubscriptionResult{}, err
	}

	m.logger.WarnContext(ctx, "no subscription for provider id",
		"event", string(event),
		"provider_subscription_id", providerSubID,
	)
	m.metrics.Count(ctx, types.MetricLookupMiss, 1, map[string]string{
		types.DimEntity:    "subscription",
		types.DimEventName: string(event),
	})
	m.audit.LogEvent(ctx, types.AuditLookupMiss, types.Attributes{
		"entity":                   "subscription",
		"event":                    string(event),
		"provider_subscription_id": providerSubID,
	})
	return nil, SubscriptionResult{Outcome: OutcomeSubscriptionNotFound}, nil
}

func (m *SubscriptionMachine) transition(ctx context.Context, event EventName, sub *types.Subscription, upd types.SubscriptionUpdate) (SubscriptionResult, error) {
	res := SubscriptionResult{SubscriptionID: sub.ID, From: sub.Status, To: upd.Status}
	attrs := types.Attributes{
		"event":                    string(event),
		"subscription_id":          sub.ID,
		"provider_subscription_id": sub.ProviderSubscriptionID,
		"from_status":              string(sub.Status),
		"to_status":                string(upd.Status),
	}

	if !sub.Status.CanTransitionTo(upd.Status) {
		m.skip(ctx, attrs, "transition not allowed")
		res.Outcome = OutcomeTransitionSkipped
		return res, nil
	}

	applied, err := m.subs.ApplyUpdate(ctx, sub.ProviderSubscriptionID, upd)
	if err != nil {
		return res, err
	}
	if !applied {
		// The row changed state between the read and the update.
		m.skip(ctx, attrs, "status changed concurrently")
		res.Outcome = OutcomeTransitionSkipped
		return res, nil
	}

	m.audit.LogEvent(ctx, types.AuditSubscriptionUpdated, attrs)
	m.logger.InfoContext(ctx, "subscription updated",
		"subscription_id", sub.ID,
		"from", string(sub.Status),
		"to", string(upd.Status),
	)
	res.Outcome = OutcomeApplied
	return res, nil
}

func (m *SubscriptionMachine) skip(ctx context.Context, attrs types.Attributes, reason string) {
	m.logger.InfoContext(ctx, "subscription transition skipped",
		"subscription_id", attrs["subscription_id"],
		"from", attrs["from_status"],
		"to", attrs["to_status"],
		"reason", reason,
	)
	m.audit.LogEvent(ctx, types.AuditSubscriptionSkipped, with(attrs, types.Attributes{"reason": reason}))
}
