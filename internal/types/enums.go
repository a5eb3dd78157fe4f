package types

// PurchaseStatus is the lifecycle state of a one-time token purchase.
// Status only moves forward: pending -> processing -> {completed, failed}.
type PurchaseStatus string

const (
	PurchaseStatusPending    PurchaseStatus = "pending"
	PurchaseStatusProcessing PurchaseStatus = "processing"
	PurchaseStatusCompleted  PurchaseStatus = "completed"
	PurchaseStatusFailed     PurchaseStatus = "failed"
)

// IsTerminal returns true for completed and failed purchases.
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

// SubscriptionStatus is the lifecycle state of a recurring subscription.
type SubscriptionStatus string

const (
	SubStatusCreated       SubscriptionStatus = "created"
	SubStatusAuthenticated SubscriptionStatus = "authenticated"
	SubStatusActive        SubscriptionStatus = "active"
	SubStatusPaused        SubscriptionStatus = "paused"
	SubStatusCancelled     SubscriptionStatus = "cancelled"
	SubStatusCompleted     SubscriptionStatus = "completed"
)

// AllSubscriptionStatuses lists every defined subscription state.
var AllSubscriptionStatuses = []SubscriptionStatus{
	SubStatusCreated,
	SubStatusAuthenticated,
	SubStatusActive,
	SubStatusPaused,
	SubStatusCancelled,
	SubStatusCompleted,
}

// IsValid reports whether s is one of the defined states.
func (s SubscriptionStatus) IsValid() bool {
	for _, known := range AllSubscriptionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true for cancelled and completed subscriptions. No
// transition ever leaves a terminal state.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubStatusCancelled || s == SubStatusCompleted
}

// subscriptionTransitions is the edge set of the subscription state machine,
// keyed by target state. Self-loops are listed so that duplicate deliveries
// re-apply harmlessly.
var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubStatusAuthenticated: {SubStatusCreated, SubStatusAuthenticated},
	SubStatusActive:        {SubStatusCreated, SubStatusAuthenticated, SubStatusActive, SubStatusPaused},
	SubStatusPaused:        {SubStatusActive, SubStatusPaused},
	SubStatusCancelled:     {SubStatusCreated, SubStatusAuthenticated, SubStatusActive, SubStatusPaused, SubStatusCancelled},
	SubStatusCompleted:     {SubStatusCreated, SubStatusAuthenticated, SubStatusActive, SubStatusPaused, SubStatusCompleted},
}

// AllowedPredecessors returns the states from which target may be entered.
// The returned slice must not be modified.
func AllowedPredecessors(target SubscriptionStatus) []SubscriptionStatus {
	return subscriptionTransitions[target]
}

// CanTransitionTo reports whether the edge s -> next exists.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, from := range subscriptionTransitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// InvoiceStatus is the state of a recorded subscription charge. Invoices are
// only ever written once, as paid.
type InvoiceStatus string

const InvoiceStatusPaid InvoiceStatus = "paid"

// PlanTier identifies the user's plan when crediting tokens.
type PlanTier string

const PlanFree PlanTier = "free"
