package app

import (
	"context"

	"candlevault/internal/analysis/indicator"
	"candlevault/internal/logger"
)

// RunEnrich appends indicator columns to every CSV export under the data
// directory.
func (a *App) RunEnrich(_ context.Context, overwrite bool) error {
	ic := a.cfg.Indicator
	settings := indicator.Settings{
		SMA:        ic.SMA,
		EMA:        ic.EMA,
		RSI:        ic.RSI,
		MACDFast:   ic.MACDFast,
		MACDSlow:   ic.MACDSlow,
		MACDSignal: ic.MACDSignal,
		BBPeriod:   ic.BBPeriod,
		BBStdDev:   ic.BBStdDev,
		ATR:        ic.ATR,
	}
	res, err := indicator.EnrichDir(a.cfg.Store.DataDir, settings, overwrite || ic.Overwrite)
	if err != nil {
		return err
	}
	logger.Infof("[enrich] %d exports found, %d enriched, %d skipped", res.Found, res.Processed, res.Skipped)
	return nil
}
