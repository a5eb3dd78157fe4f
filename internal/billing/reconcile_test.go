package billing

import (
	"errors"
	"testing"

	"billingsync/internal/types"
)

func TestReconcile(t *testing.T) {
	expected := Money{AmountMinor: 19900, Currency: "INR"}

	tests := []struct {
		name     string
		reported Money
		matched  bool
	}{
		{"exact", Money{19900, "INR"}, true},
		{"lowercase currency", Money{19900, "inr"}, false},
		{"padded currency", Money{19900, " INR "}, false},
		{"amount off by one", Money{19899, "INR"}, false},
		{"major units", Money{199, "INR"}, false},
		{"other currency", Money{19900, "USD"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile(expected, tt.reported)
			if res.Matched != tt.matched {
				t.Fatalf("Matched = %v, want %v (reason %q)", res.Matched, tt.matched, res.Reason)
			}
			if tt.matched {
				if res.Err() != nil {
					t.Errorf("Err() = %v, want nil", res.Err())
				}
				return
			}
			if res.Reason == "" {
				t.Error("expected a reason for a mismatch")
			}
			var appErr *types.AppError
			if !errors.As(res.Err(), &appErr) {
				t.Fatalf("Err() = %T, want *types.AppError", res.Err())
			}
			if appErr.Code != types.ErrCodeInternalReconciliation {
				t.Errorf("code = %s", appErr.Code)
			}
			if appErr.Details["expected_amount"] != int64(19900) {
				t.Errorf("expected_amount = %v", appErr.Details["expected_amount"])
			}
		})
	}
}
