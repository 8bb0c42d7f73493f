package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// multipartThreshold is the ledger size above which uploads switch to the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// BidHistorySource provides the full bid ledger of an auction.
type BidHistorySource interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// SettlementSource looks up the obligation issued for an auction.
type SettlementSource interface {
	GetByAuction(ctx context.Context, auctionID string) (domain.SettlementObligation, error)
}

// auctionManifest is written last, so its presence means the archive is
// complete.
type auctionManifest struct {
	Auction    domain.Auction               `json:"auction"`
	BidCount   int                          `json:"bid_count"`
	Settlement *domain.SettlementObligation `json:"settlement,omitempty"`
	ArchivedAt time.Time                    `json:"archived_at"`
}

// AuctionArchiver implements domain.AuctionArchiver by writing a closed
// auction's bids as JSONL and a JSON manifest under auctions/{id}/.
// Archiving the same auction twice is a no-op.
type AuctionArchiver struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	bids        BidHistorySource
	settlements SettlementSource
	audit       domain.AuditStore
	clock       domain.Clock
}

// NewAuctionArchiver creates an AuctionArchiver. audit may be nil.
func NewAuctionArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	bids BidHistorySource,
	settlements SettlementSource,
	audit domain.AuditStore,
	clock domain.Clock,
) *AuctionArchiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &AuctionArchiver{
		writer:      writer,
		reader:      reader,
		bids:        bids,
		settlements: settlements,
		audit:       audit,
		clock:       clock,
	}
}

// ArchiveAuction uploads the ledger of a and returns the manifest path.
func (a *AuctionArchiver) ArchiveAuction(ctx context.Context, auction domain.Auction) (string, error) {
	manifestPath := archivePath(auction.ID, "auction.json")

	done, err := a.reader.Exists(ctx, manifestPath)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %s: %w", auction.ID, err)
	}
	if done {
		return manifestPath, nil
	}

	bids, err := a.bids.ListByAuction(ctx, auction.ID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %s bids: %w", auction.ID, err)
	}
	// Stored newest first; the archive reads oldest first.
	for i, j := 0, len(bids)-1; i < j; i, j = i+1, j-1 {
		bids[i], bids[j] = bids[j], bids[i]
	}

	buf, err := marshalJSONL(bids)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %s marshal: %w", auction.ID, err)
	}

	bidsPath := archivePath(auction.ID, "bids.jsonl")
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, bidsPath, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, bidsPath, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %s upload: %w", auction.ID, err)
	}

	manifest := auctionManifest{Auction: auction, BidCount: len(bids), ArchivedAt: a.clock.Now()}
	if a.settlements != nil {
		if s, err := a.settlements.GetByAuction(ctx, auction.ID); err == nil {
			manifest.Settlement = &s
		}
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive auction %s manifest: %w", auction.ID, err)
	}
	if err := a.writer.Put(ctx, manifestPath, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive auction %s manifest upload: %w", auction.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "auction_archived", map[string]any{
			"auction_id": auction.ID,
			"path":       manifestPath,
			"bids":       len(bids),
		}); err != nil {
			return manifestPath, fmt.Errorf("s3blob: archive auction %s audit log: %w", auction.ID, err)
		}
	}
	return manifestPath, nil
}

// ReadArchive loads the manifest, file listing and bid ledger of an archived
// auction. The manifest is read first; an archive without one is reported
// as missing even when its bids were uploaded.
func (a *AuctionArchiver) ReadArchive(ctx context.Context, auctionID string) (domain.ArchivedAuction, error) {
	var manifest auctionManifest
	if err := a.readJSON(ctx, archivePath(auctionID, "auction.json"), &manifest); err != nil {
		return domain.ArchivedAuction{}, fmt.Errorf("s3blob: read archive %s manifest: %w", auctionID, err)
	}

	files, err := a.reader.List(ctx, archivePath(auctionID, ""))
	if err != nil {
		return domain.ArchivedAuction{}, fmt.Errorf("s3blob: read archive %s listing: %w", auctionID, err)
	}

	body, err := a.reader.Get(ctx, archivePath(auctionID, "bids.jsonl"))
	if err != nil {
		return domain.ArchivedAuction{}, fmt.Errorf("s3blob: read archive %s bids: %w", auctionID, err)
	}
	defer body.Close()
	bids, err := unmarshalJSONL[domain.Bid](body)
	if err != nil {
		return domain.ArchivedAuction{}, fmt.Errorf("s3blob: read archive %s bids: %w", auctionID, err)
	}
	if len(bids) != manifest.BidCount {
		return domain.ArchivedAuction{}, fmt.Errorf("s3blob: read archive %s: manifest lists %d bids, ledger has %d: %w",
			auctionID, manifest.BidCount, len(bids), domain.ErrPersistence)
	}

	return domain.ArchivedAuction{
		Auction:    manifest.Auction,
		Settlement: manifest.Settlement,
		ArchivedAt: manifest.ArchivedAt,
		Files:      files,
		Bids:       bids,
	}, nil
}

func (a *AuctionArchiver) readJSON(ctx context.Context, key string, v any) error {
	body, err := a.reader.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

// archivePath builds the object key of one archive file:
//
//	auctions/{id}/bids.jsonl
//	auctions/{id}/auction.json
func archivePath(auctionID, name string) string {
	return fmt.Sprintf("auctions/%s/%s", auctionID, name)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// unmarshalJSONL reads newline-delimited JSON until EOF.
func unmarshalJSONL[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)
	out := []T{}
	for {
		var rec T
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("jsonl decode record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

var (
	_ domain.AuctionArchiver = (*AuctionArchiver)(nil)
	_ domain.ArchiveReader   = (*AuctionArchiver)(nil)
)
