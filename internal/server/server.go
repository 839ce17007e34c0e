// Package server поднимает HTTP API: создание покупок, приём webhook'ов
// платёжных систем, витрина цен и админка настроек.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"starshop.ru/stars-shop/internal/config"
	"starshop.ru/stars-shop/internal/features/ledger"
	"starshop.ru/stars-shop/internal/features/payments"
	"starshop.ru/stars-shop/internal/features/pricing"
	"starshop.ru/stars-shop/internal/features/referral"
	"starshop.ru/stars-shop/internal/features/settings"
)

// Server — HTTP-сервер публичного API.
type Server struct {
	engine    *payments.Engine
	ledger    *ledger.Service
	prices    *pricing.Service
	referrals *referral.Service
	settings  *settings.Service

	adminPasswordHash string
	httpServer        *http.Server
}

// New собирает сервер с роутером и middleware.
func New(cfg *config.Config, engine *payments.Engine, ledgerSvc *ledger.Service,
	prices *pricing.Service, referrals *referral.Service, settingsSvc *settings.Service) *Server {

	s := &Server{
		engine:            engine,
		ledger:            ledgerSvc,
		prices:            prices,
		referrals:         referrals,
		settings:          settingsSvc,
		adminPasswordHash: cfg.AdminPasswordHash,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Password"},
		MaxAge:         300,
	}))

	limiter := newRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)

	r.Route("/api", func(r chi.Router) {
		r.Route("/payment", func(r chi.Router) {
			r.With(limiter.middleware).Post("/create", s.handleCreatePayment)
			r.With(limiter.middleware).Post("/webhook/{gateway}", s.handleWebhook)
			r.Get("/status/{id}", s.handlePaymentStatus)
		})

		r.Get("/prices", s.handlePrices)
		r.Get("/transactions/{userID}", s.handleTransactions)
		r.Get("/referrals/{userID}", s.handleReferrals)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/settings", s.requireAdmin(s.handleAdminSettings))
			r.Post("/settings/{key}", s.requireAdmin(s.handleAdminSetSetting))
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start запускает HTTP-сервер (блокирующий вызов).
func (s *Server) Start() error {
	log.WithField("addr", s.httpServer.Addr).Info("HTTP сервер запущен")
	return s.httpServer.ListenAndServe()
}

// Shutdown мягко останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
