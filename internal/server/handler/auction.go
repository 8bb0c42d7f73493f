package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
)

// AuctionService defines what the auction handler needs from the service
// layer.
type AuctionService interface {
	CreateAuction(ctx context.Context, p domain.CreateAuctionParams) (domain.Auction, error)
	SetStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) (domain.Auction, error)
	Get(ctx context.Context, auctionID string) (domain.Auction, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Auction, error)
	ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Auction, error)
}

// AuctionHandler serves auction endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{auctions: auctions, logger: logger}
}

type listAuctionsResponse struct {
	Auctions []domain.Auction `json:"auctions"`
}

// CreateAuction stores a new pending auction. Sellers create auctions for
// themselves; an admin may name any owner.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var p domain.CreateAuctionParams
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	subject := middleware.SubjectID(r)
	if !middleware.IsAdmin(r.Context()) {
		if subject == "" {
			writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderSubjectID)
			return
		}
		if p.OwnerID != "" && p.OwnerID != subject {
			writeError(w, http.StatusUnauthorized, "owner_id must be the caller")
			return
		}
	}
	if p.OwnerID == "" {
		p.OwnerID = subject
	}

	a, err := h.auctions.CreateAuction(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListActive returns auctions currently taking bids, ending soonest first.
// GET /api/auctions/active?limit=50&offset=0
func (h *AuctionHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	as, err := h.auctions.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: emptyIfNil(as)})
}

// ListByOwner returns a seller's auctions, newest first.
// GET /api/sellers/{id}/auctions
func (h *AuctionHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	as, err := h.auctions.ListByOwner(r.Context(), pathParam(r, "id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list auctions", err)
		return
	}
	writeJSON(w, http.StatusOK, listAuctionsResponse{Auctions: emptyIfNil(as)})
}

// GetAuction returns one auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus approves or rejects a pending auction. Closing happens only at
// the end time, so "closed" is refused here.
// POST /api/auctions/{id}/status
func (h *AuctionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	to := domain.AuctionStatus(req.Status)
	if to == domain.AuctionClosed {
		writeError(w, http.StatusBadRequest, "auctions close automatically at their end time")
		return
	}

	a, err := h.auctions.SetStatus(r.Context(), pathParam(r, "id"), to)
	if err != nil {
		writeServiceError(w, r, h.logger, "set auction status", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
