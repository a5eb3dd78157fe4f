package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"billingsync/internal/types"
)

// memPurchases applies the same compare-and-set rules as db.PurchaseRepo
// against an in-memory table.
type memPurchases struct {
	mu   sync.Mutex
	rows map[string]*types.PendingPurchase

	claimCalls      int
	markFailedErr   error
	markCompleteErr error
}

func newMemPurchases(rows ...types.PendingPurchase) *memPurchases {
	m := &memPurchases{rows: map[string]*types.PendingPurchase{}}
	for i := range rows {
		r := rows[i]
		m.rows[r.OrderID] = &r
	}
	return m
}

func (m *memPurchases) GetByOrderID(_ context.Context, orderID string) (*types.PendingPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[orderID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "not found", nil)
	}
	cp := *p
	return &cp, nil
}

func (m *memPurchases) Claim(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimCalls++
	p, ok := m.rows[orderID]
	if !ok || p.Status != types.PurchaseStatusPending {
		return false, nil
	}
	p.Status = types.PurchaseStatusProcessing
	return true, nil
}

func (m *memPurchases) MarkCompleted(_ context.Context, orderID, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markCompleteErr != nil {
		return m.markCompleteErr
	}
	p, ok := m.rows[orderID]
	if !ok || p.Status != types.PurchaseStatusProcessing {
		return types.NewAppError(types.ErrCodeConflictOrderState, "not processing", nil)
	}
	p.Status = types.PurchaseStatusCompleted
	p.PaymentID = &paymentID
	return nil
}

func (m *memPurchases) MarkFailed(_ context.Context, orderID, paymentID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markFailedErr != nil {
		return m.markFailedErr
	}
	p, ok := m.rows[orderID]
	if !ok || p.Status != types.PurchaseStatusProcessing {
		return types.NewAppError(types.ErrCodeConflictOrderState, "not processing", nil)
	}
	p.Status = types.PurchaseStatusFailed
	if paymentID != "" {
		p.PaymentID = &paymentID
	}
	p.ErrorMessage = &reason
	return nil
}

func (m *memPurchases) RecordPaymentFailure(_ context.Context, orderID, paymentID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[orderID]
	if !ok || (p.Status != types.PurchaseStatusPending && p.Status != types.PurchaseStatusFailed) {
		return false, nil
	}
	p.Status = types.PurchaseStatusFailed
	p.PaymentID = &paymentID
	p.ErrorMessage = &reason
	return true, nil
}

func (m *memPurchases) get(orderID string) types.PendingPurchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[orderID]
}

// memBalances is a token-balance service.
type memBalances struct {
	mu       sync.Mutex
	balances map[string]int64
	calls    int
	err      error
	declined bool
}

func newMemBalances() *memBalances {
	return &memBalances{balances: map[string]int64{}}
}

func (b *memBalances) CreditTokens(_ context.Context, req types.CreditRequest) (types.CreditResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return types.CreditResult{}, b.err
	}
	if b.declined {
		return types.CreditResult{Success: false}, nil
	}
	b.balances[req.UserID] += req.Amount
	return types.CreditResult{Success: true, NewBalance: b.balances[req.UserID]}, nil
}

func (b *memBalances) balance(userID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[userID]
}

type memHistory struct {
	mu      sync.Mutex
	entries []types.PurchaseHistoryEntry
	err     error
}

func (h *memHistory) Record(_ context.Context, e types.PurchaseHistoryEntry) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return "", h.err
	}
	h.entries = append(h.entries, e)
	return fmt.Sprintf("hist_%d", len(h.entries)), nil
}

// memAudit records audit events synchronously.
type memAudit struct {
	mu     sync.Mutex
	events []types.AuditEvent
}

func (a *memAudit) LogEvent(_ context.Context, name string, attrs types.Attributes) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, types.AuditEvent{Name: name, Attributes: attrs})
}

func (a *memAudit) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.Name
	}
	return out
}

func (a *memAudit) find(name string) (types.AuditEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.Name == name {
			return e, true
		}
	}
	return types.AuditEvent{}, false
}

type memMetrics struct {
	mu     sync.Mutex
	counts map[string]float64
}

func (r *memMetrics) Count(_ context.Context, metric string, value float64, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]float64{}
	}
	r.counts[metric] += value
}

func (r *memMetrics) get(metric string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[metric]
}

// memSubscriptions enforces the transition table in ApplyUpdate, like the
// "status = ANY(...)" predicate in db.SubscriptionRepo.
type memSubscriptions struct {
	mu      sync.Mutex
	rows    map[string]*types.Subscription
	history []types.SubscriptionStatus
	getErr  error
}

func newMemSubscriptions(subs ...types.Subscription) *memSubscriptions {
	m := &memSubscriptions{rows: map[string]*types.Subscription{}}
	for i := range subs {
		s := subs[i]
		m.rows[s.ProviderSubscriptionID] = &s
	}
	return m
}

func (m *memSubscriptions) GetByProviderID(_ context.Context, id string) (*types.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.rows[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "not found", nil)
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptions) ApplyUpdate(_ context.Context, id string, upd types.SubscriptionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || !slices.Contains(types.AllowedPredecessors(upd.Status), s.Status) {
		return false, nil
	}
	s.Status = upd.Status
	if upd.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = upd.CurrentPeriodStart
	}
	if upd.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = upd.CurrentPeriodEnd
	}
	if upd.NextBillingAt != nil {
		s.NextBillingAt = upd.NextBillingAt
	}
	if upd.PaidCount != nil {
		s.PaidCount = *upd.PaidCount
	}
	if upd.RemainingCount != nil {
		s.RemainingCount = upd.RemainingCount
	}
	if upd.ClearCancelAtEnd {
		s.CancelAtCycleEnd = false
	}
	m.history = append(m.history, upd.Status)
	return true, nil
}

func (m *memSubscriptions) get(id string) types.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

// memInvoices enforces unique payment ids.
type memInvoices struct {
	mu   sync.Mutex
	rows map[string]types.Invoice
	err  error
}

func newMemInvoices() *memInvoices {
	return &memInvoices{rows: map[string]types.Invoice{}}
}

func (m *memInvoices) Record(_ context.Context, inv *types.Invoice) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, exists := m.rows[inv.PaymentID]; exists {
		return false, nil
	}
	if inv.ID == "" {
		inv.ID = "inv_" + inv.PaymentID
	}
	m.rows[inv.PaymentID] = *inv
	return true, nil
}

func (m *memInvoices) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubCheckoutVerifier struct{ ok bool }

func (s stubCheckoutVerifier) VerifyCheckout(_, _, _ string) bool { return s.ok }

var errBoom = errors.New("boom")
