package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// ArchiveHandler serves auctions read back from cold storage.
type ArchiveHandler struct {
	archives domain.ArchiveReader
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archives domain.ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archives: archives, logger: logger}
}

// GetArchive returns the archived manifest, files and bids of an auction.
// GET /api/auctions/{id}/archive
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	a, err := h.archives.ReadArchive(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "read archive", err)
		return
	}
	a.Files = emptyIfNil(a.Files)
	a.Bids = emptyIfNil(a.Bids)
	writeJSON(w, http.StatusOK, a)
}
