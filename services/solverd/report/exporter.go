package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"tidepool/native/intent"
)

// FillSource lists the intents filled inside a window.
type FillSource interface {
	ListFilledIntentsBetween(ctx context.Context, start, end time.Time) ([]*intent.Intent, error)
}

// Config captures the dependencies required to construct an Exporter.
type Config struct {
	Source    FillSource
	OutputDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Result references the artefacts generated for one export window.
type Result struct {
	Start       time.Time
	End         time.Time
	Rows        int
	CSVPath     string
	ParquetPath string
}

// Exporter materialises daily fill reports as CSV and Parquet files.
type Exporter struct {
	source    FillSource
	outputDir string
	now       func() time.Time
	log       *slog.Logger
}

// New builds a configured exporter.
func New(cfg Config) (*Exporter, error) {
	if cfg.Source == nil {
		return nil, errors.New("report: fill source is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("tidepool-data", "reports")
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{
		source:    cfg.Source,
		outputDir: outputDir,
		now:       nowFn,
		log:       log,
	}, nil
}

// Run exports the fills for the supplied window.
func (e *Exporter) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("report: end before start")
	}
	fills, err := e.source.ListFilledIntentsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("report: load fills: %w", err)
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("report: ensure output dir: %w", err)
	}
	base := filepath.Join(e.outputDir, fmt.Sprintf("fills_%s_%s", start.Format("20060102"), end.Format("20060102")))
	csvPath := base + ".csv"
	if err := writeCSV(csvPath, fills); err != nil {
		return nil, err
	}
	parquetPath := base + ".parquet"
	if err := writeParquet(parquetPath, fills); err != nil {
		return nil, err
	}
	e.log.Info("fill report written", "csv", csvPath, "parquet", parquetPath, "rows", len(fills))
	return &Result{
		Start:       start,
		End:         end,
		Rows:        len(fills),
		CSVPath:     csvPath,
		ParquetPath: parquetPath,
	}, nil
}

// RunDaily exports yesterday's window once a day until the context is
// cancelled.
func (e *Exporter) RunDaily(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			end := e.now().Truncate(24 * time.Hour)
			start := end.Add(-24 * time.Hour)
			if _, err := e.Run(ctx, start, end); err != nil {
				e.log.Error("daily fill report failed", "err", err)
			}
		}
	}
}

func writeCSV(path string, fills []*intent.Intent) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"intent_id", "creator", "input_asset", "input_amount", "output_asset",
		"min_output", "actual_output", "fill_count", "solver_address", "settlement_tx",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, it := range fills {
		actual := ""
		if it.ActualOutput != nil {
			actual = it.ActualOutput.String()
		}
		record := []string{
			it.ID,
			it.Creator,
			it.InputAsset.Unit(),
			it.InputAmount.String(),
			it.OutputAsset.Unit(),
			it.MinOutput.String(),
			actual,
			fmt.Sprintf("%d", it.FillCount),
			it.SolverAddress,
			it.SettlementTxHash,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	IntentID     string `parquet:"name=intent_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Creator      string `parquet:"name=creator, type=BYTE_ARRAY, convertedtype=UTF8"`
	InputAsset   string `parquet:"name=input_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	InputAmount  string `parquet:"name=input_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutputAsset  string `parquet:"name=output_asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	MinOutput    string `parquet:"name=min_output, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActualOutput string `parquet:"name=actual_output, type=BYTE_ARRAY, convertedtype=UTF8"`
	FillCount    int32  `parquet:"name=fill_count, type=INT32"`
	Solver       string `parquet:"name=solver_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettlementTx string `parquet:"name=settlement_tx, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, fills []*intent.Intent) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, it := range fills {
		actual := ""
		if it.ActualOutput != nil {
			actual = it.ActualOutput.String()
		}
		pr := &parquetRow{
			IntentID:     it.ID,
			Creator:      it.Creator,
			InputAsset:   it.InputAsset.Unit(),
			InputAmount:  it.InputAmount.String(),
			OutputAsset:  it.OutputAsset.Unit(),
			MinOutput:    it.MinOutput.String(),
			ActualOutput: actual,
			FillCount:    int32(it.FillCount),
			Solver:       it.SolverAddress,
			SettlementTx: it.SettlementTxHash,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("report: close parquet file: %w", err)
	}
	return nil
}
