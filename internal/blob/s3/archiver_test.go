package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
)

type memBlobs struct {
	objects map[string][]byte
}

func (b *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	return nil
}

func (b *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBlobs) List(context.Context, string) ([]domain.BlobInfo, error) { return nil, nil }

func (b *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type fakeSource struct {
	markets  []domain.Market
	bets     map[string][]domain.Bet
	returned int
}

func (s *fakeSource) ListResolvedBefore(_ context.Context, before time.Time, after domain.ResolvedCursor, limit int) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.ResolvedAt != nil && m.ResolvedAt.Before(before) && after.Before(domain.CursorOf(m)) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.CursorOf(out[i]).Before(domain.CursorOf(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	s.returned += len(out)
	return out, nil
}

func (s *fakeSource) ListBetsByMarket(_ context.Context, id string, _ domain.ListOpts) ([]domain.Bet, error) {
	return s.bets[id], nil
}

func TestArchiveSettledIsIdempotent(t *testing.T) {
	ctx := context.Background()
	resolved := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	later := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	src := &fakeSource{
		markets: []domain.Market{
			{ID: "m1", Resolved: true, ResolvedAt: &resolved, TotalYes: 30},
			{ID: "m2", Resolved: true, ResolvedAt: &later},
		},
		bets: map[string][]domain.Bet{
			"m1": {{ID: "b1", MarketID: "m1", Owner: "alice", Amount: 30, Side: domain.SideYes}},
		},
	}
	blobs := &memBlobs{objects: map[string][]byte{}}
	audit := memory.NewAuditStore()
	arch := NewSettlementArchiver(src, blobs, blobs, audit)

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := arch.ArchiveSettled(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	raw, ok := blobs.objects["settlements/2026-02/m1.json"]
	require.True(t, ok)
	var report domain.SettlementReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "m1", report.Market.ID)
	require.Len(t, report.Bets, 1)
	assert.Equal(t, "alice", report.Bets[0].Owner)

	n, err = arch.ArchiveSettled(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArchiveSettledResumesFromWatermark(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	src := &fakeSource{bets: map[string][]domain.Bet{}}
	for i := 0; i < archivePageSize+50; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		src.markets = append(src.markets, domain.Market{ID: fmt.Sprintf("m%03d", i), Resolved: true, ResolvedAt: &at})
	}
	blobs := &memBlobs{objects: map[string][]byte{}}
	arch := NewSettlementArchiver(src, blobs, blobs, nil)

	cutoff := base.Add(30 * 24 * time.Hour)
	n, err := arch.ArchiveSettled(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(archivePageSize+50), n)

	var mark domain.ResolvedCursor
	require.NoError(t, json.Unmarshal(blobs.objects[WatermarkPath], &mark))
	assert.Equal(t, fmt.Sprintf("m%03d", archivePageSize+49), mark.ID)

	// Only markets past the watermark are read on later runs.
	src.returned = 0
	fresh := base.Add(10 * 24 * time.Hour)
	src.markets = append(src.markets, domain.Market{ID: "fresh", Resolved: true, ResolvedAt: &fresh})

	n, err = arch.ArchiveSettled(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, src.returned)
	assert.Contains(t, blobs.objects, "settlements/2026-01/fresh.json")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
