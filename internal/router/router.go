package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/antonio12761/roxy-bar-sub004/internal/config"
	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/enum"
	"github.com/antonio12761/roxy-bar-sub004/internal/handler"
	mw "github.com/antonio12761/roxy-bar-sub004/internal/middleware"
	"github.com/antonio12761/roxy-bar-sub004/internal/service"
	"github.com/antonio12761/roxy-bar-sub004/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool,
	hub *ws.Hub, receipts service.ReceiptQueue, logger *zap.Logger) chi.Router {

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret, logger)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/events", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Services
	orderService := service.NewOrderService(queries, pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	})
	paymentService := service.NewPaymentService(
		queries,
		pool,
		func(db database.DBTX) service.PaymentStore {
			return database.New(db)
		},
		queries,
		ws.NewPublisher(hub),
		receipts,
		logger,
	)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		userHandler := handler.NewUserHandler(queries, logger)
		r.Get("/auth/me", userHandler.Me)
		r.Route("/users", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin))
			userHandler.RegisterRoutes(r)
		})

		tableHandler := handler.NewTableHandler(queries, logger)
		r.Route("/tables", tableHandler.RegisterRoutes)

		productHandler := handler.NewProductHandler(queries, logger)
		r.Route("/products", func(r chi.Router) {
			r.Get("/", productHandler.List)
			r.With(mw.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager)).
				Post("/", productHandler.Create)
		})

		orderHandler := handler.NewOrderHandler(orderService, queries, logger)
		paymentHandler := handler.NewPaymentHandler(paymentService, queries, logger)

		r.Route("/orders", func(r chi.Router) {
			orderHandler.RegisterRoutes(r)

			// Payments (nested under orders, cashier-level roles only)
			r.Route("/{id}/payments", func(r chi.Router) {
				r.Use(mw.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager, enum.UserRoleCashier))
				paymentHandler.RegisterOrderRoutes(r)
			})
		})

		r.Route("/payments", func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin, enum.UserRoleManager, enum.UserRoleCashier))
			paymentHandler.RegisterLineRoutes(r)
		})
	})

	return r
}

// requestLogger logs every request with method, path and request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
