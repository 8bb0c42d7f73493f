package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
)

// SettlementService defines what the settlement handler needs from the
// service layer.
type SettlementService interface {
	Get(ctx context.Context, id string) (domain.SettlementObligation, error)
	GetByAuction(ctx context.Context, auctionID string) (domain.SettlementObligation, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementObligation, error)
	ListByWinner(ctx context.Context, winnerID string, opts domain.ListOpts) ([]domain.SettlementObligation, error)
	Stats(ctx context.Context) (domain.SettlementStats, error)
	TransitionStatus(ctx context.Context, id string, to domain.SettlementStatus) (domain.SettlementObligation, error)
}

// SettlementHandler serves settlement endpoints.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, logger: logger}
}

type listSettlementsResponse struct {
	Settlements []domain.SettlementObligation `json:"settlements"`
}

// canView reports whether the caller may see o: admins and the winner.
func canView(r *http.Request, o domain.SettlementObligation) bool {
	return middleware.IsAdmin(r.Context()) || middleware.SubjectID(r) == o.WinnerID
}

// List returns every obligation, newest first.
// GET /api/settlements
func (h *SettlementHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.settlements.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: emptyIfNil(list)})
}

// Stats counts obligations per status.
// GET /api/settlements/stats
func (h *SettlementHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.settlements.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "settlement stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Get returns one obligation.
// GET /api/settlements/{id}
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.settlements.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}
	if !canView(r, o) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetByAuction returns the obligation of a closed auction.
// GET /api/auctions/{id}/settlement
func (h *SettlementHandler) GetByAuction(w http.ResponseWriter, r *http.Request) {
	o, err := h.settlements.GetByAuction(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get settlement", err)
		return
	}
	if !canView(r, o) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListByWinner returns what a bidder owes.
// GET /api/bidders/{id}/settlements
func (h *SettlementHandler) ListByWinner(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !middleware.IsAdmin(r.Context()) && middleware.SubjectID(r) != id {
		writeError(w, http.StatusUnauthorized, "not allowed to view these settlements")
		return
	}
	list, err := h.settlements.ListByWinner(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: emptyIfNil(list)})
}

// TransitionStatus records payment progress.
// POST /api/settlements/{id}/status
func (h *SettlementHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	o, err := h.settlements.TransitionStatus(r.Context(), pathParam(r, "id"), domain.SettlementStatus(req.Status))
	if err != nil {
		writeServiceError(w, r, h.logger, "update settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
