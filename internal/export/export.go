// internal/export/export.go
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/curve-engine/internal/curve"
	"github.com/rovshanmuradov/curve-engine/internal/storage"
)

// Format selects the export file encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// exportPageSize bounds how many records one journal read pulls in.
const exportPageSize = 512

// Options configures one export run. Filters narrow the journal stream;
// empty filter fields select everything.
type Options struct {
	Format    Format
	Market    string // market address filter
	Type      string // event type filter ("trade.executed", ...)
	Side      string // trade side filter ("buy"/"sell"), implies trade events
	OutputDir string
	Filename  string // derived from filters and timestamp when empty
}

// Exporter writes journal contents to disk for offline analysis. The
// journal keeps records in (market, block, index) order and the exporter
// preserves it, so an exported file replays a market's history in sequence.
type Exporter struct {
	journal storage.Journal
	logger  *zap.Logger
}

// NewExporter wraps a journal for exporting.
func NewExporter(journal storage.Journal, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{journal: journal, logger: logger.Named("export")}
}

// Export pulls matching records from the journal and writes them in the
// requested format, returning the output path.
func (e *Exporter) Export(ctx context.Context, opts Options) (string, error) {
	records, err := e.collect(ctx, opts)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no journal records match the export criteria")
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	filename := opts.Filename
	if filename == "" {
		filename = e.generateFilename(opts)
	}
	outputPath := filepath.Join(opts.OutputDir, filename)

	switch opts.Format {
	case FormatCSV:
		err = writeCSV(records, outputPath)
	case FormatJSON:
		err = writeJSON(records, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Journal exported",
		zap.String("file", outputPath),
		zap.Int("records", len(records)),
		zap.String("format", string(opts.Format)))
	return outputPath, nil
}

// collect pages through the journal and applies the in-memory filters the
// drivers do not index on.
func (e *Exporter) collect(ctx context.Context, opts Options) ([]storage.Record, error) {
	var out []storage.Record
	for offset := 0; ; offset += exportPageSize {
		page, err := e.journal.List(ctx, opts.Market, exportPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		for _, rec := range page {
			if opts.Type != "" && rec.Type != opts.Type {
				continue
			}
			if opts.Side != "" && rec.Side != opts.Side {
				continue
			}
			out = append(out, rec)
		}
		if len(page) < exportPageSize {
			return out, nil
		}
	}
}

func (e *Exporter) generateFilename(opts Options) string {
	scope := "all"
	if opts.Market != "" {
		scope = strings.TrimPrefix(strings.ToLower(opts.Market), "0x")
		if len(scope) > 8 {
			scope = scope[:8]
		}
	}
	if opts.Side != "" {
		scope += "_" + opts.Side
	}
	timestamp := time.Now().Format("20060102_150405")
	return fmt.Sprintf("events_%s_%s.%s", scope, timestamp, opts.Format)
}

// csvHeader lists the exported columns, one per journal record field.
func csvHeader() []string {
	return []string{
		"market", "block", "index", "type", "actor", "side",
		"gross_in", "net_out", "platform_fee", "creator_fee", "refund",
		"sold_supply", "reserve", "name", "symbol", "link",
		"supply_cap", "total_supply", "forced", "migrated", "created_at",
	}
}

func csvRow(rec storage.Record) []string {
	return []string{
		rec.Market,
		strconv.FormatUint(rec.Block, 10),
		strconv.FormatUint(uint64(rec.Index), 10),
		rec.Type,
		rec.Actor,
		rec.Side,
		rec.GrossIn,
		rec.NetOut,
		rec.PlatformFee,
		rec.CreatorFee,
		rec.Refund,
		rec.SoldSupply,
		rec.Reserve,
		rec.Name,
		rec.Symbol,
		rec.Link,
		rec.SupplyCap,
		rec.TotalSupply,
		strconv.FormatBool(rec.Forced),
		strconv.FormatBool(rec.Migrated),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeCSV(records []storage.Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeader()); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, rec := range records {
		if err := writer.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write record %s: %w", rec.Key(), err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeJSON(records []storage.Record, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create JSON file: %w", err)
	}
	defer file.Close()

	payload := struct {
		ExportedAt time.Time        `json:"exported_at"`
		Summary    Summary          `json:"summary"`
		Records    []storage.Record `json:"records"`
	}{
		ExportedAt: time.Now().UTC(),
		Summary:    Summarize(records),
		Records:    records,
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

// Summary aggregates an exported record set. Volumes and fees are exact wei
// sums rendered as decimal ETH strings.
type Summary struct {
	Records       int    `json:"records"`
	Markets       int    `json:"markets"`
	Trades        int    `json:"trades"`
	Buys          int    `json:"buys"`
	Sells         int    `json:"sells"`
	Migrations    int    `json:"migrations"`
	BuyVolumeETH  string `json:"buy_volume_eth"`
	SellVolumeETH string `json:"sell_volume_eth"`
	FeesETH       string `json:"fees_eth"`
}

// Summarize folds a record set into its summary.
func Summarize(records []storage.Record) Summary {
	s := Summary{Records: len(records)}
	markets := make(map[string]struct{})
	buyVolume := new(big.Int)
	sellVolume := new(big.Int)
	fees := new(big.Int)

	for _, rec := range records {
		markets[rec.Market] = struct{}{}
		switch rec.Type {
		case "trade.executed":
			s.Trades++
			platform := parseWei(rec.PlatformFee)
			creator := parseWei(rec.CreatorFee)
			fees.Add(fees, platform)
			fees.Add(fees, creator)
			switch rec.Side {
			case "buy":
				s.Buys++
				// GrossIn minus the refund is the wei that actually moved.
				paid := parseWei(rec.GrossIn)
				paid.Sub(paid, parseWei(rec.Refund))
				buyVolume.Add(buyVolume, paid)
			case "sell":
				s.Sells++
				gross := parseWei(rec.NetOut)
				gross.Add(gross, platform)
				gross.Add(gross, creator)
				sellVolume.Add(sellVolume, gross)
			}
		case "market.migrated":
			s.Migrations++
		}
	}

	s.Markets = len(markets)
	s.BuyVolumeETH = curve.FormatWAD(buyVolume)
	s.SellVolumeETH = curve.FormatWAD(sellVolume)
	s.FeesETH = curve.FormatWAD(fees)
	return s
}

// parseWei reads a journal decimal string, treating blanks as zero.
func parseWei(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
