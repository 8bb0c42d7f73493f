package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchivedAuction is a closed auction read back from cold storage.
type ArchivedAuction struct {
	Auction    Auction               `json:"auction"`
	Settlement *SettlementObligation `json:"settlement,omitempty"`
	ArchivedAt time.Time             `json:"archived_at"`
	Files      []BlobInfo            `json:"files"`
	// Bids are oldest first.
	Bids []Bid `json:"bids"`
}

// ArchiveReader loads archives written by an AuctionArchiver. A missing
// archive wraps ErrNotFound.
type ArchiveReader interface {
	ReadArchive(ctx context.Context, auctionID string) (ArchivedAuction, error)
}

// AuctionArchiver copies the bid ledger of a closed auction to cold storage.
type AuctionArchiver interface {
	ArchiveAuction(ctx context.Context, a Auction) (path string, err error)
}
