package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"billingsync/internal/types"
)

// EventName is a provider webhook event name.
type EventName string

const (
	EventPaymentCaptured           EventName = "payment.captured"
	EventPaymentFailed             EventName = "payment.failed"
	EventSubscriptionAuthenticated EventName = "subscription.authenticated"
	EventSubscriptionActivated     EventName = "subscription.activated"
	EventSubscriptionCharged       EventName = "subscription.charged"
	EventSubscriptionCancelled     EventName = "subscription.cancelled"
	EventSubscriptionPaused        EventName = "subscription.paused"
	EventSubscriptionResumed       EventName = "subscription.resumed"
	EventSubscriptionCompleted     EventName = "subscription.completed"
)

// subscriptionTargets maps each subscription lifecycle event to the status
// it moves the subscription into.
var subscriptionTargets = map[EventName]types.SubscriptionStatus{
	EventSubscriptionAuthenticated: types.SubStatusAuthenticated,
	EventSubscriptionActivated:     types.SubStatusActive,
	EventSubscriptionCharged:       types.SubStatusActive,
	EventSubscriptionCancelled:     types.SubStatusCancelled,
	EventSubscriptionPaused:        types.SubStatusPaused,
	EventSubscriptionResumed:       types.SubStatusActive,
	EventSubscriptionCompleted:     types.SubStatusCompleted,
}

// IsKnown reports whether the engine handles events named n.
func (n EventName) IsKnown() bool {
	if n == EventPaymentCaptured || n == EventPaymentFailed {
		return true
	}
	_, ok := subscriptionTargets[n]
	return ok
}

// Event is one decoded webhook. The concrete type is one of PaymentEvent,
// SubscriptionEvent, SubscriptionCharged or IgnoredEvent.
type Event interface {
	Name() EventName
	// Attributes returns the identifiers worth recording when the event is
	// audited.
	Attributes() types.Attributes
}

// PaymentEntity is the payment object nested in payment.* and
// subscription.charged payloads.
type PaymentEntity struct {
	ID               string `json:"id" validate:"required"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount" validate:"gte=0"`
	Currency         string `json:"currency" validate:"required"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// SubscriptionEntity is the subscription object nested in subscription.*
// payloads. Timestamps are provider epoch seconds.
type SubscriptionEntity struct {
	ID             string   `json:"id" validate:"required"`
	Status         string   `json:"status"`
	CurrentStart   *int64   `json:"current_start"`
	CurrentEnd     *int64   `json:"current_end"`
	ChargeAt       *int64   `json:"charge_at"`
	PaidCount      *flexInt `json:"paid_count"`
	RemainingCount *flexInt `json:"remaining_count"`
}

// PaymentEvent is payment.captured or payment.failed. OrderID is required
// for both.
type PaymentEvent struct {
	Event   EventName
	Payment PaymentEntity
}

func (e PaymentEvent) Name() EventName { return e.Event }

func (e PaymentEvent) Attributes() types.Attributes {
	return types.Attributes{
		"event":      string(e.Event),
		"order_id":   e.Payment.OrderID,
		"payment_id": e.Payment.ID,
	}
}

// SubscriptionEvent is any subscription lifecycle event without a charge.
type SubscriptionEvent struct {
	Event        EventName
	Subscription SubscriptionEntity
}

func (e SubscriptionEvent) Name() EventName { return e.Event }

func (e SubscriptionEvent) Attributes() types.Attributes {
	return types.Attributes{
		"event":           string(e.Event),
		"subscription_id": e.Subscription.ID,
	}
}

// SubscriptionCharged is subscription.charged: a lifecycle event that also
// carries the captured recurring payment.
type SubscriptionCharged struct {
	Subscription SubscriptionEntity
	Payment      PaymentEntity
}

func (e SubscriptionCharged) Name() EventName { return EventSubscriptionCharged }

func (e SubscriptionCharged) Attributes() types.Attributes {
	return types.Attributes{
		"event":           string(EventSubscriptionCharged),
		"subscription_id": e.Subscription.ID,
		"payment_id":      e.Payment.ID,
	}
}

// IgnoredEvent is a well-formed webhook the engine does not handle.
type IgnoredEvent struct {
	Event EventName
}

func (e IgnoredEvent) Name() EventName { return e.Event }

func (e IgnoredEvent) Attributes() types.Attributes {
	return types.Attributes{"event": string(e.Event)}
}

// envelope is the outer webhook document.
type envelope struct {
	Event     EventName       `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
}

type paymentWrapper struct {
	Entity *PaymentEntity `json:"entity"`
}

type subscriptionWrapper struct {
	Entity *SubscriptionEntity `json:"entity"`
}

type eventPayload struct {
	Payment      *paymentWrapper      `json:"payment"`
	Subscription *subscriptionWrapper `json:"subscription"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseEvent decodes and validates a verified webhook body. Errors are
// *types.AppError with a validation_* code.
func ParseEvent(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMalformedPayload, "webhook body is not valid JSON", err)
	}
	if env.Event == "" {
		return nil, missingField("event", "")
	}
	if isJSONNull(env.Payload) {
		return nil, missingField("payload", env.Event)
	}

	if !env.Event.IsKnown() {
		return IgnoredEvent{Event: env.Event}, nil
	}

	var p eventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationMalformedPayload,
			"webhook payload does not match the event shape", err,
			map[string]any{"event": string(env.Event)})
	}

	switch env.Event {
	case EventPaymentCaptured, EventPaymentFailed:
		pay, err := requirePayment(env.Event, p)
		if err != nil {
			return nil, err
		}
		if pay.OrderID == "" {
			return nil, missingField("payload.payment.entity.order_id", env.Event)
		}
		return PaymentEvent{Event: env.Event, Payment: *pay}, nil

	case EventSubscriptionCharged:
		sub, err := requireSubscription(env.Event, p)
		if err != nil {
			return nil, err
		}
		pay, err := requirePayment(env.Event, p)
		if err != nil {
			return nil, err
		}
		return SubscriptionCharged{Subscription: *sub, Payment: *pay}, nil

	default:
		sub, err := requireSubscription(env.Event, p)
		if err != nil {
			return nil, err
		}
		return SubscriptionEvent{Event: env.Event, Subscription: *sub}, nil
	}
}

func requirePayment(event EventName, p eventPayload) (*PaymentEntity, error) {
	if p.Payment == nil || p.Payment.Entity == nil {
		return nil, missingField("payload.payment.entity", event)
	}
	if err := validateEntity(event, "payload.payment.entity", p.Payment.Entity); err != nil {
		return nil, err
	}
	return p.Payment.Entity, nil
}

func requireSubscription(event EventName, p eventPayload) (*SubscriptionEntity, error) {
	if p.Subscription == nil || p.Subscription.Entity == nil {
		return nil, missingField("payload.subscription.entity", event)
	}
	if err := validateEntity(event, "payload.subscription.entity", p.Subscription.Entity); err != nil {
		return nil, err
	}
	return p.Subscription.Entity, nil
}

func validateEntity(event EventName, path string, entity any) error {
	err := validate.Struct(entity)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidEntity, "entity validation failed", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s.%s (%s)", path, strings.ToLower(fe.Field()), fe.Tag()))
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidEntity,
		"webhook entity failed validation", err,
		map[string]any{"event": string(event), "fields": fields})
}

func missingField(field string, event EventName) *types.AppError {
	details := map[string]any{"field": field}
	if event != "" {
		details["event"] = string(event)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		fmt.Sprintf("missing required field %q", field), nil, details)
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// flexInt accepts a JSON number or a numeric string; the provider has sent
// both for subscription counters.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("count %s is not an integer: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

func (f *flexInt) intPtr() *int {
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// epochToTime converts provider epoch seconds. Nil and zero stay nil.
func epochToTime(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
