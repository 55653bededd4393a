package repository

import (
	"testing"
	"time"

	"skillyug/internal/domain"
	"skillyug/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderRepository_TransitionIsCompareAndSwap(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	seedOrder(t, repo, "ord_1", "buyer-1", "course-1", time.Now().UTC().Add(time.Hour))

	o, err := repo.Transition("ord_1", domain.OrderStatusCreated, domain.OrderStatusFailed, map[string]interface{}{"failure_reason": "declined"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, o.Status)
	assert.Equal(t, "declined", o.FailureReason)

	_, err = repo.Transition("ord_1", domain.OrderStatusCreated, domain.OrderStatusExpired, nil)
	assert.ErrorIs(t, err, ErrStaleTransition)

	got, err := repo.GetByRef("ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)

	_, err = repo.Transition("missing", domain.OrderStatusCreated, domain.OrderStatusFailed, nil)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderRepository_AttachRemoteOrderOnce(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	seedOrder(t, repo, "ord_1", "buyer-1", "course-1", time.Now().UTC().Add(time.Hour))

	o, err := repo.AttachRemoteOrder("ord_1", "R1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusAwaitingCallback, o.Status)
	assert.Equal(t, "R1", o.RemoteOrder())

	o, err = repo.AttachRemoteOrder("ord_1", "R1", nil)
	require.NoError(t, err)
	assert.Equal(t, "R1", o.RemoteOrder())

	o, err = repo.AttachRemoteOrder("ord_1", "R2", nil)
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.Equal(t, "R1", o.RemoteOrder())

	byRemote, err := repo.GetByRemoteOrderID("R1")
	require.NoError(t, err)
	assert.Equal(t, "ord_1", byRemote.OrderRef)
}

func TestOrderRepository_FindPendingIgnoresExpiredAndTerminal(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	now := time.Now().UTC()
	seedOrder(t, repo, "ord_old", "buyer-1", "course-1", now.Add(-time.Minute))
	_, err := repo.FindPending("buyer-1", "course-1", now)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = repo.Transition("ord_old", domain.OrderStatusCreated, domain.OrderStatusExpired, nil)
	require.NoError(t, err)

	seedOrder(t, repo, "ord_failed", "buyer-1", "course-1", now.Add(time.Hour))
	_, err = repo.Transition("ord_failed", domain.OrderStatusCreated, domain.OrderStatusFailed, nil)
	require.NoError(t, err)
	_, err = repo.FindPending("buyer-1", "course-1", now)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	seedOrder(t, repo, "ord_live", "buyer-1", "course-1", now.Add(time.Hour))
	o, err := repo.FindPending("buyer-1", "course-1", now)
	require.NoError(t, err)
	assert.Equal(t, "ord_live", o.OrderRef)

	_, err = repo.FindPending("buyer-2", "course-1", now)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderRepository_PendingSlot(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	exp := time.Now().UTC().Add(time.Hour)
	first := seedOrder(t, repo, "ord_1", "buyer-1", "course-1", exp)
	require.NotNil(t, first.PendingSlot)

	second := &models.Order{
		OrderRef: "ord_2", BuyerID: "buyer-1", CourseID: "course-1", AmountMinorUnits: 499900,
		Currency: "INR", Provider: domain.GatewayStub, Status: domain.OrderStatusCreated, ExpiresAt: exp,
	}
	assert.ErrorIs(t, repo.Create(second), ErrPendingSlotTaken)

	holder, err := repo.GetByPendingSlot("buyer-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, "ord_1", holder.OrderRef)

	// Moving forward keeps the slot; a terminal status releases it.
	_, err = repo.AttachRemoteOrder("ord_1", "R1", nil)
	require.NoError(t, err)
	verified, err := repo.Transition("ord_1", domain.OrderStatusAwaitingCallback, domain.OrderStatusVerified, nil)
	require.NoError(t, err)
	assert.NotNil(t, verified.PendingSlot)
	entitled, err := repo.Transition("ord_1", domain.OrderStatusVerified, domain.OrderStatusEntitled, nil)
	require.NoError(t, err)
	assert.Nil(t, entitled.PendingSlot)

	_, err = repo.GetByPendingSlot("buyer-1", "course-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	second.PendingSlot = nil
	require.NoError(t, repo.Create(second))

	seedOrder(t, repo, "ord_3", "buyer-2", "course-1", exp)
}

func TestOrderRepository_SweepQueries(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	now := time.Now().UTC()
	seedOrder(t, repo, "ord_overdue", "buyer-1", "course-1", now.Add(-time.Second))
	seedOrder(t, repo, "ord_live", "buyer-1", "course-2", now.Add(time.Hour))

	overdue, err := repo.ListOverdue(now, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "ord_overdue", overdue[0].OrderRef)

	live, err := repo.ListReconcilable(now.Add(time.Minute), now, 10)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "ord_live", live[0].OrderRef)

	none, err := repo.ListReconcilable(now.Add(-time.Hour), now, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOrderRepository_ListByBuyer(t *testing.T) {
	repo := NewOrderRepository(newTestDB(t))
	exp := time.Now().UTC().Add(time.Hour)
	seedOrder(t, repo, "ord_l1", "buyer-1", "c1", exp)
	seedOrder(t, repo, "ord_l2", "buyer-1", "c2", exp)
	seedOrder(t, repo, "ord_l3", "buyer-2", "c1", exp)

	list, err := repo.ListByBuyer("buyer-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, o := range list {
		assert.Equal(t, "buyer-1", o.BuyerID)
	}

	page, err := repo.ListByBuyer("buyer-1", 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
