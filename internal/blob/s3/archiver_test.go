package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// bucket is an in-memory BlobWriter and BlobReader.
type bucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newBucket() *bucket { return &bucket{objects: make(map[string][]byte)} }

func (b *bucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = body
	b.puts++
	return nil
}

func (b *bucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *bucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	body, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (b *bucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, body := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(body))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (b *bucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func TestArchiveAuction(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	db := memory.New()
	a := domain.Auction{
		ID: "a1", OwnerID: "seller", Name: "clock",
		PriceStart: decimal.NewFromInt(100000),
		TimeStart:  start, TimeEnd: start.Add(time.Hour),
		Status: domain.AuctionApproved,
	}
	assert.NoError(t, db.Auctions().Create(ctx, a))
	for i, amt := range []int64{101000, 102000} {
		assert.NoError(t, db.Bids().AppendWinning(ctx, domain.Bid{
			ID: []string{"b1", "b2"}[i], AuctionID: "a1", BidderID: "x",
			Amount: decimal.NewFromInt(amt), PlacedAt: start.Add(time.Duration(i) * time.Minute),
		}, int64(i)))
	}

	blobs := newBucket()
	arch := NewAuctionArchiver(blobs, blobs, db.Bids(), db.Settlements(), db.Audit(), fixedClock{start.Add(2 * time.Hour)})

	path, err := arch.ArchiveAuction(ctx, a)
	assert.NoError(t, err)
	check.Equal(t, "auctions/a1/auction.json", path)

	lines := strings.Split(strings.TrimSpace(string(blobs.objects["auctions/a1/bids.jsonl"])), "\n")
	check.Equal(t, 2, len(lines))
	var first domain.Bid
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	check.Equal(t, "b1", first.ID)

	var manifest auctionManifest
	assert.NoError(t, json.Unmarshal(blobs.objects[path], &manifest))
	check.Equal(t, 2, manifest.BidCount)
	check.Nil(t, manifest.Settlement)

	// A second run finds the manifest and uploads nothing.
	puts := blobs.puts
	_, err = arch.ArchiveAuction(ctx, a)
	assert.NoError(t, err)
	check.Equal(t, puts, blobs.puts)

	entries, err := db.Audit().List(ctx, domain.ListOpts{})
	assert.NoError(t, err)
	check.Equal(t, 1, len(entries))
	check.Equal(t, "auction_archived", entries[0].Event)
}

func TestReadArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	db := memory.New()
	a := domain.Auction{
		ID: "a2", OwnerID: "seller", Name: "lamp",
		PriceStart: decimal.NewFromInt(5000),
		TimeStart:  start, TimeEnd: start.Add(time.Hour),
		Status: domain.AuctionClosed,
	}
	assert.NoError(t, db.Auctions().Create(ctx, a))
	for i, amt := range []int64{6000, 7000, 8000} {
		assert.NoError(t, db.Bids().AppendWinning(ctx, domain.Bid{
			ID: []string{"b1", "b2", "b3"}[i], AuctionID: "a2", BidderID: "y",
			Amount: decimal.NewFromInt(amt), PlacedAt: start.Add(time.Duration(i) * time.Minute),
		}, int64(i)))
	}

	blobs := newBucket()
	arch := NewAuctionArchiver(blobs, blobs, db.Bids(), db.Settlements(), nil, fixedClock{start.Add(2 * time.Hour)})

	_, err := arch.ReadArchive(ctx, "a2")
	check.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = arch.ArchiveAuction(ctx, a)
	assert.NoError(t, err)

	got, err := arch.ReadArchive(ctx, "a2")
	assert.NoError(t, err)
	check.Equal(t, "lamp", got.Auction.Name)
	check.Equal(t, start.Add(2*time.Hour), got.ArchivedAt)
	assert.Equal(t, 3, len(got.Bids))
	check.Equal(t, "b1", got.Bids[0].ID)
	check.Equal(t, "b3", got.Bids[2].ID)
	check.Equal(t, decimal.NewFromInt(8000), got.Bids[2].Amount)
	assert.Equal(t, 2, len(got.Files))
	check.Equal(t, "auctions/a2/auction.json", got.Files[0].Path)
	check.Equal(t, "auctions/a2/bids.jsonl", got.Files[1].Path)
}

func TestReadArchiveDetectsTruncatedLedger(t *testing.T) {
	ctx := context.Background()
	blobs := newBucket()
	blobs.objects["auctions/a3/auction.json"] = []byte(`{"auction":{"id":"a3"},"bid_count":2}`)
	blobs.objects["auctions/a3/bids.jsonl"] = []byte(`{"id":"b1","auction_id":"a3","bidder_id":"x","amount":"10"}` + "\n")

	arch := NewAuctionArchiver(blobs, blobs, nil, nil, nil, nil)
	_, err := arch.ReadArchive(ctx, "a3")
	check.True(t, errors.Is(err, domain.ErrPersistence))
}

func TestNormaliseEndpoint(t *testing.T) {
	check.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	check.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	check.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
