// Package api exposes the sync engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"example.com/ridesync/internal/domain"
	"example.com/ridesync/internal/observability"
	"example.com/ridesync/internal/orchestrator"
	"example.com/ridesync/internal/persistence"
	"example.com/ridesync/internal/platform/auth"
	"example.com/ridesync/internal/provider"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Syncer is the orchestrator surface used by the handlers.
type Syncer interface {
	TriggerSync(ctx context.Context, userID string, p domain.Provider) (orchestrator.Ack, error)
	GetSyncState(userID string, p domain.Provider) domain.SyncState
	Disconnect(ctx context.Context, userID string, p domain.Provider) error
	GetActiveProfile(ctx context.Context, userID string, p domain.Provider) (*domain.AthleteProfile, error)
	CompleteOAuthExchange(ctx context.Context, userID string, p domain.Provider, code, redirectURI string) (*domain.AthleteProfile, error)
}

// RideReader serves ledger queries.
type RideReader interface {
	ListRidesByUser(ctx context.Context, userID string, cursor *domain.RideCursor, limit int) ([]domain.Ride, *domain.RideCursor, error)
	RideStats(ctx context.Context, userID string) (domain.RideStats, error)
}

// ComponentRecalculator recomputes usage for a single component.
type ComponentRecalculator interface {
	Recalculate(ctx context.Context, userID, componentID string) (*domain.Component, error)
}

// ClientResolver returns the provider client for a provider.
type ClientResolver interface {
	Client(p domain.Provider) (provider.Client, error)
}

// Handler coordinates HTTP requests with the sync engine.
type Handler struct {
	syncer       Syncer
	rides        RideReader
	recalculator ComponentRecalculator
	clients      ClientResolver
}

// NewHandler builds a Handler.
func NewHandler(syncer Syncer, rides RideReader, recalculator ComponentRecalculator, clients ClientResolver) *Handler {
	return &Handler{syncer: syncer, rides: rides, recalculator: recalculator, clients: clients}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, observability.Instrument(pattern, fn))
	}
	handle("POST /v1/sync/{provider}", h.withUser(auth.ScopeSyncWrite, h.triggerSync))
	handle("GET /v1/sync/{provider}", h.withUser(auth.ScopeRidesRead, h.syncState))
	handle("GET /v1/integrations/{provider}/authorize", h.withUser(auth.ScopeSyncWrite, h.authorizeURL))
	handle("POST /v1/integrations/{provider}/exchange", h.withUser(auth.ScopeSyncWrite, h.exchange))
	handle("GET /v1/integrations/{provider}", h.withUser(auth.ScopeRidesRead, h.activeProfile))
	handle("DELETE /v1/integrations/{provider}", h.withUser(auth.ScopeSyncWrite, h.disconnect))
	handle("GET /v1/rides", h.withUser(auth.ScopeRidesRead, h.listRides))
	handle("GET /v1/rides/stats", h.withUser(auth.ScopeRidesRead, h.rideStats))
	handle("POST /v1/components/{id}/recalculate", h.withUser(auth.ScopeGearWrite, h.recalculateComponent))
	mux.HandleFunc("GET /healthz", healthz)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser resolves the caller from the bearer claims and enforces scope.
func (h *Handler) withUser(scope string, next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if !claims.HasScope(scope) {
			writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
			return
		}
		next(w, r, claims.Subject)
	}
}

func pathProvider(w http.ResponseWriter, r *http.Request) (domain.Provider, bool) {
	p, ok := domain.ParseProvider(r.PathValue("provider"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_provider", "unsupported provider "+strconv.Quote(r.PathValue("provider")))
		return "", false
	}
	return p, true
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := pathProvider(w, r)
	if !ok {
		return
	}
	ack, err := h.syncer.TriggerSync(r.Context(), userID, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (h *Handler) syncState(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := pathProvider(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSyncStateView(h.syncer.GetSyncState(userID, p)))
}

func (h *Handler) authorizeURL(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := pathProvider(w, r)
	if !ok {
		return
	}
	client, err := h.clients.Client(p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	query := r.URL.Query()
	writeJSON(w, http.StatusOK, AuthorizeResponse{URL: client.AuthCodeURL(query.Get("state"), query.Get("redirect_uri"))})
}

func (h *Handler) exchange(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := pathProvider(w, r)
	if !ok {
		return
	}
	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	profile, err := h.syncer.CompleteOAuthExchange(r.Context(), userID, p, req.Code, req.RedirectURI)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(*profile))
}

func (h *Handler) activeProfile(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := pathProvider(w, r)
	if !ok {
		return
	}
	profile, err := h.syncer.GetActiveProfile(r.Context(), userID, p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileView(*profile))
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request, userID string) {
	p, ok := pathProvider(w, r)
	if !ok {
		return
	}
	if err := h.syncer.Disconnect(r.Context(), userID, p); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRides(w http.ResponseWriter, r *http.Request, userID string) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxPageSize)
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	rides, next, err := h.rides.ListRidesByUser(r.Context(), userID, cursor, limit)
	if err != nil {
		writeDomainError(w, domain.WrapStorage("list rides", err))
		return
	}

	items := make([]RideView, 0, len(rides))
	for _, ride := range rides {
		items = append(items, toRideView(ride))
	}
	writeJSON(w, http.StatusOK, ListRidesResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) rideStats(w http.ResponseWriter, r *http.Request, userID string) {
	stats, err := h.rides.RideStats(r.Context(), userID)
	if err != nil {
		writeDomainError(w, domain.WrapStorage("ride stats", err))
		return
	}
	writeJSON(w, http.StatusOK, RideStatsView{
		TotalRides:    stats.TotalRides,
		TotalDistance: stats.TotalDistance,
		TotalTime:     stats.TotalTime,
	})
}

func (h *Handler) recalculateComponent(w http.ResponseWriter, r *http.Request, userID string) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing component id")
		return
	}
	component, err := h.recalculator.Recalculate(r.Context(), userID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toComponentView(*component))
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		exchangeErr *domain.AuthExchangeError
		refreshErr  *domain.AuthRefreshError
		limited     *domain.RateLimitedError
		providerErr *domain.ProviderError
		storageErr  *domain.StorageError
	)
	switch {
	case errors.Is(err, domain.ErrNotIntegrated):
		writeError(w, http.StatusNotFound, "not_integrated", err.Error())
	case errors.Is(err, domain.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
	case errors.Is(err, domain.ErrComponentNotFound), errors.Is(err, domain.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "sync_in_progress", err.Error())
	case errors.As(err, &exchangeErr):
		status := http.StatusBadRequest
		if exchangeErr.Status >= 500 || exchangeErr.Status == 0 {
			status = http.StatusBadGateway
		}
		writeError(w, status, "auth_exchange_failed", err.Error())
	case errors.As(err, &refreshErr):
		writeError(w, http.StatusBadGateway, "auth_refresh_failed", err.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &providerErr):
		writeError(w, http.StatusBadGateway, "provider_error", err.Error())
	case errors.As(err, &storageErr):
		writeError(w, http.StatusInternalServerError, "storage_error", "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{
		"type":   code,
		"detail": detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
