package indicator

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"candlevault/internal/logger"
	"candlevault/internal/market"
	"candlevault/internal/store"
)

// Source export files look like btcusdc_1h_365d_240525.csv. The ta_ prefix
// marks an output and must never be re-processed as input.
var sourceFilePattern = regexp.MustCompile(`^[\w-]+_[\w\d]+_\d+d_\d{6}\.csv$`)

const outputPrefix = "ta_"

// EnrichResult summarizes one directory scan.
type EnrichResult struct {
	Processed int
	Skipped   int
	Found     int
}

// EnrichDir scans dir for source CSV exports, computes the indicator
// columns for each and writes ta_<name>.csv next to it. Existing outputs
// are left alone unless overwrite is set.
func EnrichDir(dir string, cfg Settings, overwrite bool) (EnrichResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return EnrichResult{}, err
	}
	var res EnrichResult
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, outputPrefix) || !sourceFilePattern.MatchString(name) {
			continue
		}
		res.Found++
		srcPath := filepath.Join(dir, name)
		dstPath := filepath.Join(dir, outputPrefix+name)
		if _, err := os.Stat(dstPath); err == nil && !overwrite {
			logger.Infof("[enrich] skip %s: %s exists (use overwrite to recompute)", name, outputPrefix+name)
			res.Skipped++
			continue
		}
		if err := EnrichFile(srcPath, dstPath, cfg); err != nil {
			return res, fmt.Errorf("enrich %s: %w", name, err)
		}
		res.Processed++
	}
	if res.Found == 0 {
		logger.Warnf("[enrich] no source CSV files matching <symbol>_<interval>_<days>d_<yymmdd>.csv in %s", dir)
	}
	return res, nil
}

// EnrichFile computes indicators for one export and writes the enriched CSV
// through a temp file plus rename.
func EnrichFile(srcPath, dstPath string, cfg Settings) error {
	series, err := store.ReadCSV(srcPath)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fmt.Errorf("source is empty")
	}
	frame, err := Enrich(series, cfg)
	if err != nil {
		return err
	}
	if err := writeFrameCSV(dstPath, frame); err != nil {
		return err
	}
	logger.Infof("[enrich] %s: %d rows, %d columns", filepath.Base(dstPath),
		frame.Len(), len(market.CSVColumns)+len(frame.Columns))
	return nil
}

func writeFrameCSV(path string, frame Frame) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ta-*.csv")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	header := append(append([]string{}, market.CSVColumns...), frame.Columns...)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	for i, c := range frame.Candles {
		record := c.CSVRecord()
		for _, col := range frame.Columns {
			record = append(record, strconv.FormatFloat(frame.Values[col][i], 'f', -1, 64))
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
