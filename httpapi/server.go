package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderflow/approval"
	"orderflow/auth"
	"orderflow/handoff"
	"orderflow/order"
)

// Server mounts the REST surface over the domain services.
type Server struct {
	orders    *order.Service
	handoffs  *handoff.Service
	approvals *approval.Service
	verifier  *auth.Verifier
	hub       http.Handler
	validate  *validator.Validate
	log       *zap.Logger
	srv       *http.Server
}

func NewServer(orders *order.Service, handoffs *handoff.Service, approvals *approval.Service, verifier *auth.Verifier, hub http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		orders:    orders,
		handoffs:  handoffs,
		approvals: approvals,
		verifier:  verifier,
		hub:       hub,
		validate:  validator.New(),
		log:       log,
	}
}

// Routes builds the full router. Exposed for handler tests.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/orders/{id}/confirm", s.handleConfirmOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/history", s.handleOrderHistory).Methods(http.MethodGet)

	api.HandleFunc("/orders/agent/available", s.handleListAvailable).Methods(http.MethodGet)
	api.HandleFunc("/orders/agent/{id}/pickup", s.handleClaimOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/agent/{id}/start-pickup", s.handleStartPickup).Methods(http.MethodPost)
	api.HandleFunc("/orders/agent/{id}/arrive-at-site", s.handleArriveAtSite).Methods(http.MethodPost)
	api.HandleFunc("/orders/agent/{id}/start-delivery", s.handleStartDelivery).Methods(http.MethodPost)

	api.HandleFunc("/handoff/{id}/generate-seller-pickup-code", s.issueHandler(handoff.StageSellerPickup)).Methods(http.MethodPost)
	api.HandleFunc("/handoff/{id}/verify-seller-pickup", s.verifyHandler(handoff.StageSellerPickup)).Methods(http.MethodPost)
	api.HandleFunc("/handoff/{id}/generate-buyer-delivery-code", s.issueHandler(handoff.StageBuyerDelivery)).Methods(http.MethodPost)
	api.HandleFunc("/handoff/{id}/confirm-buyer-delivery", s.verifyHandler(handoff.StageBuyerDelivery)).Methods(http.MethodPost)
	api.HandleFunc("/handoff/{id}/generate-site-code", s.issueHandler(handoff.StageSiteHandoff)).Methods(http.MethodPost)
	api.HandleFunc("/handoff/{id}/verify-site-handoff", s.verifyHandler(handoff.StageSiteHandoff)).Methods(http.MethodPost)
	api.HandleFunc("/handoff/{id}/evidence", s.handleListEvidence).Methods(http.MethodGet)

	api.HandleFunc("/approvals/pending", s.handleListPending).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/approve", s.decideHandler(approval.DecisionApprove)).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}/reject", s.decideHandler(approval.DecisionReject)).Methods(http.MethodPost)

	return s.logMiddleware(r)
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.log.Info("http server draining")
		return s.srv.Shutdown(shutdownCtx)
	}
}
