package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"billingsync/internal/types"
)

func TestSubscriptionRepo_GetByProviderID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepo(db, nil)

	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	remaining := 11
	db.On("QueryRow", mock.Anything, mock.Anything, []any{"sub_prov_1"}).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "sub_1"
			*dest[1].(*string) = "user_1"
			*dest[2].(*string) = "sub_prov_1"
			*dest[3].(*types.SubscriptionStatus) = types.SubStatusActive
			*dest[5].(**time.Time) = &end
			*dest[7].(*int) = 1
			*dest[8].(**int) = &remaining
			*dest[9].(*bool) = true
			return nil
		}})

	sub, err := repo.GetByProviderID(context.Background(), "sub_prov_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, types.SubStatusActive, sub.Status)
	assert.Equal(t, end, *sub.CurrentPeriodEnd)
	assert.Equal(t, 11, *sub.RemainingCount)
	assert.True(t, sub.CancelAtCycleEnd)
}

func TestSubscriptionRepo_GetByProviderID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByProviderID(context.Background(), "nope")
	assert.Equal(t, types.ErrCodeNotFoundSubscription, types.CodeOf(err))
}

func TestSubscriptionRepo_ApplyUpdate_PassesAllowedPredecessors(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepo(db, nil)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	applied, err := repo.ApplyUpdate(context.Background(), "sub_prov_1", types.SubscriptionUpdate{
		Status:             types.SubStatusPaused,
		CurrentPeriodStart: &start,
		ClearCancelAtEnd:   false,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	args := execArgs(db)
	assert.Equal(t, "sub_prov_1", args[0])
	assert.Equal(t, types.SubStatusPaused, args[1])
	assert.Equal(t, &start, args[2])
	assert.Equal(t, []string{"active", "paused"}, args[8])
}

func TestSubscriptionRepo_ApplyUpdate_NoMatchingRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepo(db, nil)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	applied, err := repo.ApplyUpdate(context.Background(), "sub_prov_1", types.SubscriptionUpdate{Status: types.SubStatusActive})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestSubscriptionRepo_ApplyUpdate_RejectsUnknownStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepo(db, nil)

	_, err := repo.ApplyUpdate(context.Background(), "sub_prov_1", types.SubscriptionUpdate{Status: "halted"})
	assert.Equal(t, types.ErrCodeValidationInvalidEntity, types.CodeOf(err))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionRepo_ApplyUpdate_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSubscriptionRepo(db, nil)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("timeout"))

	_, err := repo.ApplyUpdate(context.Background(), "sub_prov_1", types.SubscriptionUpdate{Status: types.SubStatusCancelled})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
