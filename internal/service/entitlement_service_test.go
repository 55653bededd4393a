package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"skillyug/internal/domain"
	"skillyug/internal/models"
	"skillyug/internal/verification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCallback_EntitlesAndReplays(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")
	assert.Equal(t, int64(499900), o.AmountMinorUnits)
	assert.Equal(t, "INR", o.Currency)

	in := signedCallback(o, "P1")
	in.AmountMinorUnits, in.Currency = 499900, "INR"
	res, err := env.writer.HandleCallback(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.OrderStatusEntitled, res.Order.Status)
	assert.Equal(t, "P1", res.Order.RemotePayment())

	for i := 0; i < 3; i++ {
		res, err = env.writer.HandleCallback(context.Background(), signedCallback(o, "P1"))
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.Equal(t, domain.OrderStatusEntitled, res.Order.Status)
	}

	n, err := env.entitlements.CountByBuyerCourse("buyer-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	records, err := env.callbacks.CountByOrderRef(o.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, int64(4), records)

	e, err := env.entitlements.GetByOrderRef(o.OrderRef)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "buyer-1", e.BuyerID)

	assert.Equal(t, 1, env.listener.count(o.OrderRef, domain.OrderStatusEntitled))
	logs, err := env.audit.ListByResource("order", o.OrderRef)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditPaymentEntitled, logs[0].Action)
}

func TestHandleCallback_TamperedSignature(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")

	in := signedCallback(o, "P1")
	in.RemoteSignature = verification.Sign("not-the-secret", o.RemoteOrder(), "P1")
	_, err := env.writer.HandleCallback(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorIs(t, err, verification.ErrInvalidSignature)

	got := env.order(t, o.OrderRef)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
	assert.Empty(t, got.RemotePayment())
	owned, err := env.entitlements.Exists("buyer-1", "course-1")
	require.NoError(t, err)
	assert.False(t, owned)

	records, err := env.callbacks.CountByOrderRef(o.OrderRef)
	require.NoError(t, err)
	assert.Equal(t, int64(1), records, "rejected callbacks stay in the audit trail")
}

func TestHandleCallback_AmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")

	in := signedCallback(o, "P1")
	in.AmountMinorUnits = 100
	_, err := env.writer.HandleCallback(context.Background(), in)
	assert.ErrorIs(t, err, verification.ErrAmountMismatch)
	assert.Equal(t, domain.OrderStatusFailed, env.order(t, o.OrderRef).Status)
}

func TestHandleCallback_SignatureForAnotherOrder(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	env.addCourse(t, "course-2", 100, true)
	victim := env.startCheckout(t, "buyer-2", "course-1")
	cheap := env.startCheckout(t, "buyer-1", "course-2")

	// Valid signature for the cheap order's remote order, presented as payment for the victim's.
	in := signedCallback(cheap, "P1")
	in.OrderRef = victim.OrderRef
	_, err := env.writer.HandleCallback(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.ErrorIs(t, err, verification.ErrOrderMismatch)

	assert.Equal(t, domain.OrderStatusAwaitingCallback, env.order(t, cheap.OrderRef).Status)
	assert.Equal(t, domain.OrderStatusAwaitingCallback, env.order(t, victim.OrderRef).Status)

	// Both orders can still be paid by their own callbacks.
	res, err := env.writer.HandleCallback(context.Background(), signedCallback(victim, "P2"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusEntitled, res.Order.Status)
	res, err = env.writer.HandleCallback(context.Background(), signedCallback(cheap, "P1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusEntitled, res.Order.Status)
}

func TestHandleCallback_ScopedToBuyer(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-2", "course-1")

	in := signedCallback(o, "P1")
	in.OrderRef = ""
	in.RemoteSignature = "00"
	in.BuyerID = "buyer-1"
	_, err := env.writer.HandleCallback(context.Background(), in)
	assert.ErrorIs(t, err, ErrNotOrderOwner)
	assert.Equal(t, domain.OrderStatusAwaitingCallback, env.order(t, o.OrderRef).Status)

	in = signedCallback(o, "P1")
	in.BuyerID = "buyer-2"
	res, err := env.writer.HandleCallback(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusEntitled, res.Order.Status)
}

func TestMarkFailed_TruncatesOnRuneBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")

	reason := strings.Repeat("a", 254) + "é"
	failed, err := env.writer.MarkFailed(o, reason)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(failed.FailureReason))
	assert.Equal(t, strings.Repeat("a", 254), failed.FailureReason)

	assert.Equal(t, "ab", truncate("ab", 5))
	assert.Equal(t, "日", truncate("日本", 4))
}

func TestHandleCallback_PaymentAlreadyAppliedElsewhere(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	env.addCourse(t, "course-2", 99900, true)
	a := env.startCheckout(t, "buyer-1", "course-1")
	b := env.startCheckout(t, "buyer-1", "course-2")

	_, err := env.writer.HandleCallback(context.Background(), signedCallback(a, "P1"))
	require.NoError(t, err)

	_, err = env.writer.HandleCallback(context.Background(), signedCallback(b, "P1"))
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, domain.OrderStatusAwaitingCallback, env.order(t, b.OrderRef).Status)
}

func TestHandleCallback_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.writer.HandleCallback(context.Background(), CallbackInput{
		RemoteOrderID:   "nope",
		RemotePaymentID: "P1",
		RemoteSignature: verification.Sign(testSecret, "nope", "P1"),
	})
	assert.ErrorIs(t, err, ErrUnknownOrder)

	_, err = env.writer.HandleCallback(context.Background(), CallbackInput{RemotePaymentID: "P1"})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestHandleCallback_ExpiredOrderNotPayable(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")

	env.clock.Advance(31 * time.Minute)
	_, err := env.writer.HandleCallback(context.Background(), signedCallback(o, "P1"))
	assert.ErrorIs(t, err, ErrOrderNotPayable)

	got := env.order(t, o.OrderRef)
	assert.Equal(t, domain.OrderStatusExpired, got.Status)
	owned, err := env.entitlements.Exists("buyer-1", "course-1")
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestHandleCallback_DifferentPaymentAfterEntitled(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")

	_, err := env.writer.HandleCallback(context.Background(), signedCallback(o, "P1"))
	require.NoError(t, err)

	_, err = env.writer.HandleCallback(context.Background(), signedCallback(o, "P2"))
	assert.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Equal(t, "P1", env.order(t, o.OrderRef).RemotePayment())
}

func TestHandleCallback_ConcurrentWithReconcile(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")
	require.NoError(t, env.gw.Pay(o.RemoteOrder(), "P1"))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.writer.HandleCallback(context.Background(), signedCallback(o, "P1"))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := env.reconciler.ReconcileNow(context.Background(), o.OrderRef)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	n, err := env.entitlements.CountByBuyerCourse("buyer-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got := env.order(t, o.OrderRef)
	assert.Equal(t, domain.OrderStatusEntitled, got.Status)
	assert.Equal(t, "P1", got.RemotePayment())
	assert.Equal(t, 1, env.listener.count(o.OrderRef, domain.OrderStatusEntitled))
}

func TestFinalize_BuyerAlreadyOwnsCourse(t *testing.T) {
	env := newTestEnv(t)
	env.addCourse(t, "course-1", 499900, true)
	o := env.startCheckout(t, "buyer-1", "course-1")

	_, err := env.entitlements.Grant(&models.Entitlement{BuyerID: "buyer-1", CourseID: "course-1", OrderRef: "ord_earlier", GrantedAt: env.clock.Now()})
	require.NoError(t, err)

	_, err = env.writer.HandleCallback(context.Background(), signedCallback(o, "P1"))
	assert.ErrorIs(t, err, ErrAlreadyEntitled)

	got := env.order(t, o.OrderRef)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
	assert.Equal(t, "course already owned", got.FailureReason)
	e, err := env.entitlements.Get("buyer-1", "course-1")
	require.NoError(t, err)
	assert.Equal(t, "ord_earlier", e.OrderRef)

	logs, err := env.audit.ListByResource("order", o.OrderRef)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, domain.AuditPaymentOrphaned, logs[len(logs)-1].Action)
}

func TestRecordCallback_WrapsNonJSONPayload(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.writer.RecordCallback(CallbackInput{OrderRef: "ord_x", RemoteOrderID: "R1", RawPayload: []byte("razorpay_payment_id=P1")})
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackSourceClient, rec.Source)
	assert.Contains(t, string(rec.RawPayload), "razorpay_payment_id=P1")

	list, err := env.callbacks.ListByOrderRef("ord_x")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "R1", list[0].RemoteOrderID)
}
