package types

import "time"

// PendingPurchase is a one-time token purchase that has not yet settled.
// Rows are created by the checkout flow and mutated only by the purchase
// ledger. They are never deleted.
type PendingPurchase struct {
	OrderID      string         `json:"order_id"`
	UserID       string         `json:"user_id"`
	PlanTier     PlanTier       `json:"plan_tier"`
	TokenAmount  int64          `json:"token_amount"`
	AmountMinor  int64          `json:"amount_minor"`
	Currency     string         `json:"currency"`
	Status       PurchaseStatus `json:"status"`
	PaymentID    *string        `json:"payment_id,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Subscription is a recurring billing relationship with the payment provider.
// Status and billing fields are owned by the subscription state machine;
// plan and pricing fields belong to the pricing collaborator and are not
// modelled here.
type Subscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"user_id"`
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	NextBillingAt          *time.Time         `json:"next_billing_at,omitempty"`
	PaidCount              int                `json:"paid_count"`
	RemainingCount         *int               `json:"remaining_count,omitempty"`
	CancelAtCycleEnd       bool               `json:"cancel_at_cycle_end"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// Invoice is the immutable record of one successful recurring charge.
// At most one invoice exists per PaymentID.
type Invoice struct {
	ID                 string        `json:"id"`
	SubscriptionID     string        `json:"subscription_id"`
	PaymentID          string        `json:"payment_id"`
	AmountMinor        int64         `json:"amount_minor"`
	Currency           string        `json:"currency"`
	BillingPeriodStart *time.Time    `json:"billing_period_start,omitempty"`
	BillingPeriodEnd   *time.Time    `json:"billing_period_end,omitempty"`
	Status             InvoiceStatus `json:"status"`
	PaymentMethod      string        `json:"payment_method"`
	PaidAt             time.Time     `json:"paid_at"`
}

// SubscriptionUpdate carries the fields a provider event may change on a
// subscription. Nil pointers leave the stored value untouched.
type SubscriptionUpdate struct {
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	NextBillingAt      *time.Time
	PaidCount          *int
	RemainingCount     *int
	ClearCancelAtEnd   bool
}

// PurchaseHistoryEntry is an immutable, diagnostic record of a completed
// token purchase.
type PurchaseHistoryEntry struct {
	UserID        string
	TokenAmount   int64
	CostMinor     int64
	Currency      string
	PaymentID     string
	OrderID       string
	PaymentMethod string
	Status        PurchaseStatus
}

// CreditRequest asks the token-balance service to add tokens to a user.
type CreditRequest struct {
	UserID       string
	PlanTier     PlanTier
	Amount       int64
	AuditContext map[string]string
}

// CreditResult is the token-balance service's answer to a CreditRequest.
type CreditResult struct {
	Success    bool
	NewBalance int64
}
