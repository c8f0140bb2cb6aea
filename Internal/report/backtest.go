package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/parquet-go/parquet-go"

	"github.com/fazecat/breakoutscan/Internal/strategy/metrics"
	"github.com/fazecat/breakoutscan/Internal/utils/formatting"
)

const (
	paramScanCSV     = "param_scan.csv"
	paramScanParquet = "param_scan.parquet"
)

// ScanRow is the flat, columnar form of one ranked grid row.
type ScanRow struct {
	Rank      int64   `parquet:"rank"`
	Short     int64   `parquet:"short"`
	Long      int64   `parquet:"long"`
	Vol       float64 `parquet:"vol"`
	ATRMin    float64 `parquet:"atr_min"`
	Trades    int64   `parquet:"trades"`
	AvgRet10d float64 `parquet:"avg_ret_10d"`
	WinRate   float64 `parquet:"win_rate"`
	LowSample bool    `parquet:"low_sample"`
}

// FlattenRows keeps row order. Rows with fewer than lowSample trades are
// marked, not dropped.
func FlattenRows(rows []metrics.Row, lowSample int) []ScanRow {
	out := make([]ScanRow, len(rows))
	for i, r := range rows {
		out[i] = ScanRow{
			Rank:      int64(i + 1),
			Short:     int64(r.Short),
			Long:      int64(r.Long),
			Vol:       r.VolumeMultiplier,
			ATRMin:    r.ATRPctMin,
			Trades:    int64(r.Trades),
			AvgRet10d: r.AvgForwardReturn,
			WinRate:   r.WinRate,
			LowSample: r.Trades < lowSample,
		}
	}
	return out
}

var scanHeader = []string{"short", "long", "vol", "atr_min", "trades", "avg_ret_10d", "win_rate", "low_sample"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteScanCSV writes the ranked table with a header row.
func WriteScanCSV(w io.Writer, rows []ScanRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(scanHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			strconv.FormatInt(r.Short, 10),
			strconv.FormatInt(r.Long, 10),
			formatFloat(r.Vol),
			formatFloat(r.ATRMin),
			strconv.FormatInt(r.Trades, 10),
			formatFloat(r.AvgRet10d),
			formatFloat(r.WinRate),
			strconv.FormatBool(r.LowSample),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteParamScan writes param_scan.csv and param_scan.parquet under
// <base>/backtest and returns both paths.
func WriteParamScan(base string, rows []metrics.Row, lowSample int) (csvPath, parquetPath string, err error) {
	_, dir, err := EnsureDirs(base)
	if err != nil {
		return "", "", err
	}
	flat := FlattenRows(rows, lowSample)

	var buf bytes.Buffer
	if err := WriteScanCSV(&buf, flat); err != nil {
		return "", "", err
	}
	csvPath = filepath.Join(dir, paramScanCSV)
	if err := os.WriteFile(csvPath, buf.Bytes(), 0o644); err != nil {
		return "", "", fmt.Errorf("write scan csv: %w", err)
	}

	parquetPath = filepath.Join(dir, paramScanParquet)
	if err := parquet.WriteFile(parquetPath, flat); err != nil {
		return "", "", fmt.Errorf("write scan parquet: %w", err)
	}
	return csvPath, parquetPath, nil
}

// ReadParamScanParquet loads a table written by WriteParamScan.
func ReadParamScanParquet(path string) ([]ScanRow, error) {
	rows, err := parquet.ReadFile[ScanRow](path)
	if err != nil {
		return nil, fmt.Errorf("read scan parquet: %w", err)
	}
	return rows, nil
}

// RenderParamScan prints the top limit rows as an aligned table. A limit of
// zero prints every row.
func RenderParamScan(w io.Writer, rows []metrics.Row, lowSample, limit int) error {
	flat := FlattenRows(rows, lowSample)
	if limit > 0 && len(flat) > limit {
		flat = flat[:limit]
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tshort\tlong\tvol\tatr_min\ttrades\tavg_ret_10d\twin_rate\t")
	for _, r := range flat {
		marker := ""
		if r.LowSample {
			marker = "low sample"
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Rank, r.Short, r.Long,
			formatting.Decimal(r.Vol, 1),
			formatting.Percent(r.ATRMin, 1),
			r.Trades,
			formatting.Percent(r.AvgRet10d, 2),
			formatting.Percent(r.WinRate, 1),
			marker)
	}
	return tw.Flush()
}

// RenderSingle prints one parameter set's outcome and, when present, the
// per-symbol breakdown.
func RenderSingle(w io.Writer, p metrics.Params, out metrics.Outcome, perSymbol []metrics.SymbolStats) error {
	fmt.Fprintf(w, "params %s\n", p)
	fmt.Fprintf(w, "trades=%d avg_ret_10d=%s win_rate=%s\n",
		out.Trades, formatting.Percent(out.AvgForwardReturn, 2), formatting.Percent(out.WinRate, 1))
	if len(perSymbol) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "symbol\ttrades\twins\tlosses\tavg_ret_10d\t")
	for _, s := range perSymbol {
		if s.Skipped {
			fmt.Fprintf(tw, "%s\t-\t-\t-\tshort history\t\n", s.Symbol)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t\n", s.Symbol, s.Trades, s.Wins, s.Losses, formatting.Percent(s.AvgForwardReturn, 2))
	}
	return tw.Flush()
}
