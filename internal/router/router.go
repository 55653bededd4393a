package router

import (
	"log"
	"net/http"

	"skillyug/config"
	"skillyug/internal/domain"
	"skillyug/internal/handler"
	"skillyug/internal/middleware"
	"skillyug/internal/repository"
	"skillyug/internal/service"
	"skillyug/internal/ws"
	"skillyug/pkg/payment"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App is the wired HTTP engine plus the pieces main drives outside of requests.
type App struct {
	Engine     *gin.Engine
	Reconciler *service.Reconciler
	Hub        *ws.OrderHub
}

func Setup(cfg *config.Config, db *gorm.DB, gateway payment.Gateway, push service.Pusher) *App {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	// Repositories
	orderRepo := repository.NewOrderRepository(db)
	callbackRepo := repository.NewCallbackRepository(db)
	entitlementRepo := repository.NewEntitlementRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	orderHub := ws.NewOrderHub()

	// Services
	if push == nil {
		log.Printf("[FCM] Push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}
	notifSvc := service.NewNotificationService(notificationRepo, courseRepo, push)
	writer := service.NewEntitlementWriter(db, orderRepo, callbackRepo, entitlementRepo, auditRepo, cfg.Gateway.KeySecret, orderHub, notifSvc)
	checkoutSvc := service.NewCheckoutService(orderRepo, entitlementRepo, courseRepo, gateway, writer, cfg)
	reconciler := service.NewReconciler(orderRepo, writer, gateway, cfg)

	// Handlers
	checkoutHandler := handler.NewCheckoutHandler(checkoutSvc, cfg)
	callbackHandler := handler.NewCallbackHandler(writer, reconciler, orderRepo)
	orderHandler := handler.NewOrderHandler(orderRepo, reconciler)
	entitlementHandler := handler.NewEntitlementHandler(entitlementRepo)
	courseHandler := handler.NewCourseHandler(courseRepo, cfg)
	webhookHandler := handler.NewWebhookHandler(cfg, orderRepo, writer, reconciler)
	notificationHandler := handler.NewNotificationHandler(notifSvc)
	adminHandler := handler.NewAdminHandler(orderRepo, callbackRepo, auditRepo, reconciler)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": gateway.Name()})
	})

	authMw := middleware.AuthRequired(&cfg.JWT)
	rateMw := middleware.RateLimit(limiter)

	api := r.Group("/api/v1")
	{
		api.GET("/payments/config", checkoutHandler.Config)
		api.GET("/courses/:id", courseHandler.Get)

		payments := api.Group("/payments")
		payments.Use(rateMw, authMw, middleware.RequireRole(domain.RoleBuyer, domain.RoleAdmin))
		{
			payments.POST("/checkout", checkoutHandler.Start)
			payments.POST("/callback", callbackHandler.Verify)
			payments.POST("/failure", callbackHandler.Failure)
		}

		api.GET("/orders/:ref", authMw, orderHandler.Get)

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("/orders", orderHandler.List)
			me.GET("/purchases", entitlementHandler.Purchases)
			me.GET("/entitlements/:course_id", entitlementHandler.Has)
			me.GET("/notifications", notificationHandler.List)
			me.PUT("/notifications/:id/read", notificationHandler.MarkRead)
		}

		api.POST("/webhooks/razorpay", webhookHandler.Razorpay)
		api.POST("/webhooks/midtrans", webhookHandler.Midtrans)

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.PUT("/courses/:id", courseHandler.Upsert)
			admin.GET("/orders/:ref", adminHandler.GetOrder)
			admin.GET("/orders/:ref/callbacks", adminHandler.Callbacks)
			admin.POST("/orders/:ref/reconcile", adminHandler.Reconcile)
			admin.POST("/sweep", adminHandler.Sweep)
		}
	}

	r.GET("/ws/orders", ws.UpgradeOrdersWS(&cfg.JWT, orderHub))

	return &App{Engine: r, Reconciler: reconciler, Hub: orderHub}
}
