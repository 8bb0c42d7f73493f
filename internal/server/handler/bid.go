package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
)

// BidService defines what the bid handler needs from the service layer.
type BidService interface {
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal) (domain.BidResult, error)
	GetHighestBid(ctx context.Context, auctionID string) (decimal.Decimal, error)
	History(ctx context.Context, auctionID string, limit int) ([]domain.Bid, error)
	BidsByBidder(ctx context.Context, bidderID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// BidHandler serves bid endpoints.
type BidHandler struct {
	bids   BidService
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidService, logger *slog.Logger) *BidHandler {
	return &BidHandler{bids: bids, logger: logger}
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// bidResponse is the wire form of a bid decision. The judged amounts are
// only reported for bid_too_low.
type bidResponse struct {
	Accepted       bool   `json:"accepted"`
	BidID          string `json:"bid_id,omitempty"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason,omitempty"`
	CurrentHighest string `json:"current_highest,omitempty"`
	MinNext        string `json:"min_next,omitempty"`
}

func toBidResponse(res domain.BidResult) bidResponse {
	out := bidResponse{
		Accepted: res.Accepted,
		BidID:    res.BidID,
		Amount:   domain.FormatMoney(res.Amount),
		Reason:   string(res.Reason),
	}
	if res.Reason == domain.RejectTooLow {
		out.CurrentHighest = domain.FormatMoney(res.CurrentHighest)
		out.MinNext = domain.FormatMoney(res.MinNext)
	}
	return out
}

// rejectionStatus maps a refusal onto an HTTP status.
func rejectionStatus(reason domain.RejectReason) int {
	switch reason {
	case domain.RejectAuctionNotFound:
		return http.StatusNotFound
	case domain.RejectRateLimited:
		return http.StatusTooManyRequests
	case domain.RejectUnknownBidder, domain.RejectBidderInactive:
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

// PlaceBid submits a bid for the caller named in X-Subject-ID.
// POST /api/auctions/{id}/bids
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidder := middleware.SubjectID(r)
	if bidder == "" {
		writeError(w, http.StatusUnauthorized, "missing "+middleware.HeaderSubjectID)
		return
	}

	var req placeBidRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.bids.PlaceBid(r.Context(), pathParam(r, "id"), bidder, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}

	status := http.StatusCreated
	if !res.Accepted {
		status = rejectionStatus(res.Reason)
		if res.Reason == domain.RejectRateLimited {
			w.Header().Set("Retry-After", "1")
		}
	}
	writeJSON(w, status, toBidResponse(res))
}

// GetHighest returns the current price: the winning bid, or the starting
// price when nobody has bid.
// GET /api/auctions/{id}/highest
func (h *BidHandler) GetHighest(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	amount, err := h.bids.GetHighestBid(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get highest bid", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auction_id": id,
		"amount":     domain.FormatMoney(amount),
	})
}

type listBidsResponse struct {
	Bids []domain.Bid `json:"bids"`
}

// ListBids returns the latest bids on an auction, newest first.
// GET /api/auctions/{id}/bids?limit=10
func (h *BidHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, 500)
	}

	bids, err := h.bids.History(r.Context(), pathParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: emptyIfNil(bids)})
}

// ListByBidder returns a bidder's bids. Bidders see their own; admins see
// anyone's.
// GET /api/bidders/{id}/bids
func (h *BidHandler) ListByBidder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !middleware.IsAdmin(r.Context()) && middleware.SubjectID(r) != id {
		writeError(w, http.StatusUnauthorized, "not allowed to view these bids")
		return
	}

	bids, err := h.bids.BidsByBidder(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list bids", err)
		return
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: emptyIfNil(bids)})
}
