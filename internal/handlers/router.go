package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"pointledger/internal/config"
	"pointledger/internal/ledger"
	"pointledger/internal/middleware"
	"pointledger/internal/websocket"
)

type Handler struct {
	cfg     config.Config
	service LedgerService
	hub     *websocket.Hub
	logger  *zap.Logger
	metrics http.Handler
	now     func() time.Time
}

func New(cfg config.Config, service LedgerService, hub *websocket.Hub, logger *zap.Logger, metrics http.Handler) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Handler{
		cfg:     cfg,
		service: service,
		hub:     hub,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestLogger(h.logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(h.cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Post("/accounts", h.OpenAccount)
	router.Route("/accounts/{id}", func(r chi.Router) {
		r.Get("/", h.GetAccount)
		r.Put("/settings", h.UpdateSettings)
		r.Get("/balance", h.GetBalance)
		r.Get("/usage", h.GetUsage)
		r.Get("/verify", h.VerifyChain)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/audit", h.ListAudit(ledger.AuditEntityAccount))
		r.Post("/debit", h.Debit)
		r.Post("/credit", h.Credit)
	})
	router.Post("/transactions/{id}/reverse", h.Reverse)
	router.Get("/transactions/{id}/audit", h.ListAudit(ledger.AuditEntityTransaction))
	router.Get("/ws/accounts/{id}", h.WSAccount)

	if h.metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.metrics)
	}
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

func (h *Handler) WSAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, err := h.service.GetAccount(r.Context(), accountID); err != nil {
		respondLedgerError(w, err)
		return
	}
	websocket.ServeWS(w, r, h.hub, accountID)
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
