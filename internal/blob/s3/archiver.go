package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// WatermarkPath is the object holding the archiver's progress.
const WatermarkPath = "settlements/_watermark.json"

// archivePageSize bounds each store query during a run.
const archivePageSize = 100

// SettlementSource lists resolved markets and their bets.
type SettlementSource interface {
	ListResolvedBefore(ctx context.Context, before time.Time, after domain.ResolvedCursor, limit int) ([]domain.Market, error)
	ListBetsByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Bet, error)
}

// SettlementArchiver implements domain.Archiver by writing one JSON
// settlement report per resolved market. A watermark object records the
// last archived (resolved_at, id), so each run pages only through markets
// resolved since the previous one. A report is a snapshot taken once the
// market is older than the retention window; later claims are not
// reflected. Nothing is deleted from the primary store.
type SettlementArchiver struct {
	source SettlementSource
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewSettlementArchiver creates a SettlementArchiver. audit may be nil.
func NewSettlementArchiver(source SettlementSource, writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *SettlementArchiver {
	return &SettlementArchiver{
		source: source,
		writer: writer,
		reader: reader,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveSettled writes reports for markets resolved before the cutoff and
// after the stored watermark, and returns how many reports it uploaded.
func (a *SettlementArchiver) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	cursor, err := a.loadWatermark(ctx)
	if err != nil {
		return 0, err
	}

	var written int64
	for {
		markets, err := a.source.ListResolvedBefore(ctx, before, cursor, archivePageSize)
		if err != nil {
			return written, fmt.Errorf("s3blob: list resolved: %w", err)
		}
		for _, m := range markets {
			if err := a.archiveOne(ctx, m); err != nil {
				return written, err
			}
			written++
		}
		if len(markets) == 0 {
			break
		}
		cursor = domain.CursorOf(markets[len(markets)-1])
		if err := a.storeWatermark(ctx, cursor); err != nil {
			return written, err
		}
		if len(markets) < archivePageSize {
			break
		}
	}

	if written > 0 && a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
			"count":          written,
			"before":         before.Format(time.RFC3339),
			"through_market": cursor.ID,
		}); err != nil {
			return written, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return written, nil
}

func (a *SettlementArchiver) loadWatermark(ctx context.Context) (domain.ResolvedCursor, error) {
	var c domain.ResolvedCursor
	rc, err := a.reader.Get(ctx, WatermarkPath)
	if errors.Is(err, domain.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("s3blob: read watermark: %w", err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(&c); err != nil {
		return c, fmt.Errorf("s3blob: decode watermark: %w", err)
	}
	return c, nil
}

func (a *SettlementArchiver) storeWatermark(ctx context.Context, c domain.ResolvedCursor) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("s3blob: encode watermark: %w", err)
	}
	if err := a.writer.Put(ctx, WatermarkPath, bytes.NewReader(raw), "application/json"); err != nil {
		return fmt.Errorf("s3blob: write watermark: %w", err)
	}
	return nil
}

// archiveOne uploads a market's report. A crash between the upload and the
// watermark write re-uploads the same key on the next run.
func (a *SettlementArchiver) archiveOne(ctx context.Context, m domain.Market) error {
	bets, err := a.source.ListBetsByMarket(ctx, m.ID, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("s3blob: list bets for %s: %w", m.ID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(domain.SettlementReport{Market: m, Bets: bets, ArchivedAt: a.now()}); err != nil {
		return fmt.Errorf("s3blob: encode report %s: %w", m.ID, err)
	}
	return a.writer.Put(ctx, ReportPath(m), &buf, "application/json")
}

// ReportPath is the object key for a market's settlement report,
// partitioned by resolution month:
//
//	settlements/2026-03/<market-id>.json
func ReportPath(m domain.Market) string {
	month := m.UpdatedAt
	if m.ResolvedAt != nil {
		month = *m.ResolvedAt
	}
	return fmt.Sprintf("settlements/%s/%s.json", month.UTC().Format("2006-01"), m.ID)
}

var _ domain.Archiver = (*SettlementArchiver)(nil)
