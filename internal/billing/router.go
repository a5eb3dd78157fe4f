package billing

import (
	"context"
	"log/slog"

	"billingsync/internal/types"
)

// DispatchResult summarizes what the router did with one webhook.
type DispatchResult struct {
	Event   EventName
	Ignored bool
	Outcome string
}

// Router dispatches decoded webhook events to the ledger or the
// subscription machine.
type Router struct {
	ledger *Ledger
	subs   *SubscriptionMachine
	audit  Auditor
	logger *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(ledger *Ledger, subs *SubscriptionMachine, audit Auditor, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{ledger: ledger, subs: subs, audit: audit, logger: logger}
}

// Handle parses body and dispatches it. Parse failures are returned as-is
// (validation_* codes); processing failures are wrapped as
// internal_webhook_processing with the event's identifiers in Details.
func (r *Router) Handle(ctx context.Context, body []byte) (DispatchResult, error) {
	evt, err := ParseEvent(body)
	if err != nil {
		return DispatchResult{}, err
	}
	return r.Dispatch(ctx, evt)
}

// Dispatch runs the handler for evt.
func (r *Router) Dispatch(ctx context.Context, evt Event) (DispatchResult, error) {
	out := DispatchResult{Event: evt.Name()}

	var (
		outcome string
		err     error
	)
	switch e := evt.(type) {
	case PaymentEvent:
		var res PurchaseResult
		if e.Event == EventPaymentCaptured {
			res, err = r.ledger.Capture(ctx, CapturedPayment{
				OrderID:   e.Payment.OrderID,
				PaymentID: e.Payment.ID,
				Method:    e.Payment.Method,
				Source:    SourceWebhook,
				Reported:  &Money{AmountMinor: e.Payment.Amount, Currency: e.Payment.Currency},
			})
		} else {
			res, err = r.ledger.RecordFailure(ctx, e.Payment)
		}
		outcome = string(res.Outcome)

	case SubscriptionCharged:
		var res SubscriptionResult
		res, err = r.subs.Charge(ctx, e)
		outcome = string(res.Outcome)

	case SubscriptionEvent:
		var res SubscriptionResult
		res, err = r.subs.Apply(ctx, e)
		outcome = string(res.Outcome)

	default:
		r.logger.InfoContext(ctx, "ignoring unhandled webhook event",
			"event", string(evt.Name()),
		)
		r.audit.LogEvent(ctx, types.AuditWebhookIgnored, evt.Attributes())
		out.Ignored = true
		out.Outcome = "ignored"
		return out, nil
	}

	out.Outcome = outcome
	if err != nil {
		details := map[string]any{"cause": string(types.CodeOf(err))}
		for k, v := range evt.Attributes() {
			details[k] = v
		}
		return out, types.NewAppErrorWithDetails(types.ErrCodeInternalWebhookProcessing,
			"failed to process "+string(evt.Name()), err, details)
	}

	r.logger.InfoContext(ctx, "webhook processed",
		"event", string(evt.Name()),
		"outcome", outcome,
	)
	return out, nil
}
