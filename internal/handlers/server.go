// Package handlers is the public HTTP API: routing, the response envelope,
// error mapping and the auth, CORS and rate limit middleware.
package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/shivam349/codex1/internal/catalog"
	"github.com/shivam349/codex1/internal/idempotency"
	"github.com/shivam349/codex1/internal/identity"
	"github.com/shivam349/codex1/internal/logging"
	"github.com/shivam349/codex1/internal/metrics"
	"github.com/shivam349/codex1/internal/orders"
	"github.com/shivam349/codex1/internal/validation"
)

// ImageStore persists uploaded product images.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// Options are the deployment parameters of the HTTP surface.
type Options struct {
	Production          bool // hide internal error detail
	AllowedOrigins      []string
	RateLimitRPS        int
	RateLimitBurst      int
	MaxUploadBytes      int64
	ProductsCacheMaxAge time.Duration
}

// Deps groups dependencies for the router.
type Deps struct {
	Catalog     *catalog.Store
	Orders      *orders.Service
	Identity    *identity.Service
	Gate        identity.Gate
	Idempotency *idempotency.Store // nil disables Idempotency-Key handling
	Images      ImageStore         // nil disables uploads
	Metrics     *metrics.Metrics   // nil disables /metrics
	Log         logrus.FieldLogger
	Options     Options
}

// Server holds the handler dependencies.
type Server struct {
	Deps
	v *validatorv10.Validate
}

// NewRouter builds the gin engine with every route and middleware mounted.
func NewRouter(d Deps) *gin.Engine {
	s := &Server{Deps: d, v: validation.New()}

	r := gin.New()
	r.Use(gin.CustomRecovery(s.recovered))
	r.Use(logging.RequestLogger(d.Log))
	if d.Metrics != nil {
		r.Use(d.Metrics.Instrument())
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	r.Use(CORS(d.Options.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok", "timestamp": time.Now().UTC()})
	})
	r.NoRoute(func(c *gin.Context) {
		s.failMsg(c, http.StatusNotFound, "Route not found")
	})

	api := r.Group("/api")
	if d.Options.RateLimitRPS > 0 {
		api.Use(NewRateLimiter(d.Options.RateLimitRPS, d.Options.RateLimitBurst).Handler(s))
	}

	products := api.Group("/products")
	{
		products.GET("", s.listProducts)
		products.GET("/:id", s.getProduct)
		products.POST("", s.requireAdmin, s.createProduct)
		products.PUT("/:id", s.requireAdmin, s.updateProduct)
		products.DELETE("/:id", s.requireAdmin, s.deleteProduct)
	}

	ordersGroup := api.Group("/orders")
	{
		ordersGroup.POST("", s.optionalUser, s.placeOrder)
		ordersGroup.GET("", s.requireAdmin, s.listOrders)
		ordersGroup.GET("/:id", s.requireAdmin, s.getOrder)
		ordersGroup.PUT("/:id/status", s.requireAdmin, s.updateOrderStatus)
		ordersGroup.PUT("/:id/payment-status", s.requireAdmin, s.updatePaymentStatus)
		ordersGroup.DELETE("/:id", s.requireAdmin, s.deleteOrder)
	}

	auth := api.Group("/auth")
	{
		auth.POST("/register", s.register)
		auth.POST("/verify-email", s.verifyEmail)
		auth.POST("/resend-verification", s.resendVerification)
		auth.POST("/google", s.googleAuth)
		auth.POST("/login", s.login)
		auth.POST("/user-login", s.userLogin)
		auth.GET("/me", s.requireUser, s.me)
	}

	api.POST("/uploads/image", s.requireAdmin, s.uploadImage)

	return r
}

func (s *Server) recovered(c *gin.Context, rec any) {
	logging.FromGin(s.Log, c).WithField("panic", rec).Error("handler panicked")
	s.failMsg(c, http.StatusInternalServerError, "Server error")
}
