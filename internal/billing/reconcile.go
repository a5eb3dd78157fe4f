package billing

import (
	"fmt"

	"billingsync/internal/types"
)

// Money is an amount in the currency's smallest unit.
type Money struct {
	AmountMinor int64
	Currency    string
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
}

// ReconciliationResult is the outcome of comparing what checkout recorded
// with what the provider captured.
type ReconciliationResult struct {
	Expected Money
	Reported Money
	Matched  bool
	Reason   string
}

// Err returns a reconciliation error for a mismatch, nil otherwise.
func (r ReconciliationResult) Err() error {
	if r.Matched {
		return nil
	}
	return types.NewAppErrorWithDetails(types.ErrCodeInternalReconciliation, r.Reason, nil, map[string]any{
		"expected_amount":   r.Expected.AmountMinor,
		"expected_currency": r.Expected.Currency,
		"reported_amount":   r.Reported.AmountMinor,
		"reported_currency": r.Reported.Currency,
	})
}

// Reconcile requires the reported amount and currency to equal the expected
// ones exactly. Nothing is normalized: "inr" does not match "INR".
func Reconcile(expected, reported Money) ReconciliationResult {
	res := ReconciliationResult{Expected: expected, Reported: reported, Matched: true}

	switch {
	case expected.Currency != reported.Currency:
		res.Matched = false
		res.Reason = fmt.Sprintf("currency mismatch: expected %s, provider reported %s", expected, reported)
	case expected.AmountMinor != reported.AmountMinor:
		res.Matched = false
		res.Reason = fmt.Sprintf("amount mismatch: expected %s, provider reported %s", expected, reported)
	}
	return res
}
