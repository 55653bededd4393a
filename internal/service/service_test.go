package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"skillyug/config"
	"skillyug/internal/database"
	"skillyug/internal/domain"
	"skillyug/internal/models"
	"skillyug/internal/repository"
	"skillyug/internal/verification"
	"skillyug/pkg/payment"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "rzp_test_secret"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) OrderUpdated(o *models.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, o.OrderRef+":"+o.Status)
}

func (l *recordingListener) count(ref, status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == ref+":"+status {
			n++
		}
	}
	return n
}

type testEnv struct {
	db           *gorm.DB
	cfg          *config.Config
	gw           *payment.StubGateway
	clock        *fakeClock
	listener     *recordingListener
	orders       *repository.OrderRepository
	callbacks    *repository.CallbackRepository
	entitlements *repository.EntitlementRepository
	courses      *repository.CourseRepository
	audit        *repository.AuditLogRepository
	checkout     *CheckoutService
	writer       *EntitlementWriter
	reconciler   *Reconciler
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "service.db") + "?_pragma=busy_timeout(5000)",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			Provider:  domain.GatewayStub,
			KeySecret: testSecret,
			Timeout:   2 * time.Second,
			Currency:  "INR",
		},
		Checkout: config.CheckoutConfig{
			OrderTTL:       30 * time.Minute,
			ReconcileGrace: 2 * time.Minute,
			SweepSchedule:  "@every 1m",
			SweepBatch:     100,
			GatewayRetries: 2,
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	cfg := testConfig()
	env := &testEnv{
		db:           db,
		cfg:          cfg,
		gw:           payment.NewStubGateway(),
		clock:        &fakeClock{now: time.Now().UTC().Truncate(time.Second)},
		listener:     &recordingListener{},
		orders:       repository.NewOrderRepository(db),
		callbacks:    repository.NewCallbackRepository(db),
		entitlements: repository.NewEntitlementRepository(db),
		courses:      repository.NewCourseRepository(db),
		audit:        repository.NewAuditLogRepository(db),
	}
	env.writer = NewEntitlementWriter(db, env.orders, env.callbacks, env.entitlements, env.audit, testSecret, env.listener)
	env.writer.SetClock(env.clock.Now)
	env.checkout = NewCheckoutService(env.orders, env.entitlements, env.courses, env.gw, env.writer, cfg)
	env.checkout.SetClock(env.clock.Now)
	env.checkout.SetBackoff(time.Millisecond)
	env.reconciler = NewReconciler(env.orders, env.writer, env.gw, cfg)
	env.reconciler.SetClock(env.clock.Now)
	return env
}

func (e *testEnv) addCourse(t *testing.T, id string, price int64, purchasable bool) {
	t.Helper()
	require.NoError(t, e.courses.Create(&models.Course{ID: id, Title: "Course " + id, PriceMinorUnits: price, Currency: "INR", Purchasable: purchasable}))
}

// startCheckout runs a successful checkout and returns the order awaiting its callback.
func (e *testEnv) startCheckout(t *testing.T, buyer, course string) *models.Order {
	t.Helper()
	res, err := e.checkout.StartCheckout(context.Background(), buyer, course)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusAwaitingCallback, res.Order.Status)
	return res.Order
}

func (e *testEnv) order(t *testing.T, ref string) *models.Order {
	t.Helper()
	o, err := e.orders.GetByRef(ref)
	require.NoError(t, err)
	return o
}

func signedCallback(o *models.Order, paymentID string) CallbackInput {
	return CallbackInput{
		OrderRef:        o.OrderRef,
		RemoteOrderID:   o.RemoteOrder(),
		RemotePaymentID: paymentID,
		RemoteSignature: verification.Sign(testSecret, o.RemoteOrder(), paymentID),
		Source:          domain.CallbackSourceClient,
	}
}
