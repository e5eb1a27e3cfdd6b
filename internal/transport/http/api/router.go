package apihttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"candlevault/internal/analysis/indicator"
	"candlevault/internal/analysis/visual"
	"candlevault/internal/market"
	"candlevault/internal/store/candledb"
)

// HistoryStore is the slice of the on-disk candle store the API needs.
type HistoryStore interface {
	QueryCandles(ctx context.Context, symbol, interval string, start, end int64, limit int) (market.Series, error)
	Manifest(ctx context.Context, symbol, interval string) (candledb.Manifest, error)
	CheckIntegrity(ctx context.Context, symbol, interval string, start, end int64) (candledb.IntegrityReport, error)
}

// LiveStore is the read side of the realtime kline cache.
type LiveStore interface {
	Get(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

type Router struct {
	history HistoryStore
	live    LiveStore
	liveMax int

	// overridable in tests; the real one needs a Chrome binary.
	renderPNG func(ctx context.Context, input visual.PageInput) ([]byte, error)
}

func NewRouter(history HistoryStore, live LiveStore, liveMax int) *Router {
	if liveMax <= 0 {
		liveMax = 500
	}
	return &Router{history: history, live: live, liveMax: liveMax, renderPNG: visual.RenderPNG}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.history != nil {
		group.GET("/candles", r.handleCandles)
		group.GET("/manifest", r.handleManifest)
		group.GET("/integrity", r.handleIntegrity)
	}
	if r.live != nil {
		group.GET("/candles/live", r.handleLiveCandles)
	}
}

type candleJSON struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
	Trades    int64   `json:"nb_trades"`
}

func toJSON(series market.Series) []candleJSON {
	out := make([]candleJSON, len(series))
	for i, c := range series {
		out[i] = candleJSON{
			OpenTime:  c.OpenTime,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			CloseTime: c.CloseTime,
			Trades:    c.Trades,
		}
	}
	return out
}

func seriesParams(c *gin.Context) (symbol, interval string, ok bool) {
	symbol = strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	interval = strings.TrimSpace(c.Query("interval"))
	if symbol == "" || interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and interval are required"})
		return "", "", false
	}
	return symbol, interval, true
}

func (r *Router) handleCandles(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.DefaultQuery("start", "0"), 10, 64)
	end, _ := strconv.ParseInt(c.DefaultQuery("end", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	series, err := r.history.QueryCandles(c.Request.Context(), symbol, interval, start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"count":    len(series),
		"candles":  toJSON(series),
	})
}

func (r *Router) handleLiveCandles(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	candles, err := r.live.Get(c.Request.Context(), symbol, interval)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"count":    len(candles),
		"candles":  toJSON(candles),
	})
}

func (r *Router) handleManifest(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	m, err := r.history.Manifest(c.Request.Context(), symbol, interval)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (r *Router) handleIntegrity(c *gin.Context) {
	symbol, interval, ok := seriesParams(c)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.DefaultQuery("start", "0"), 10, 64)
	end, _ := strconv.ParseInt(c.DefaultQuery("end", "0"), 10, 64)

	report, err := r.history.CheckIntegrity(c.Request.Context(), symbol, interval, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"complete": report.Complete(),
		"report":   report,
	})
}

// handleChart renders a kline + volume page for one series. Candles come
// from history when available, falling back to the realtime cache; the
// indicator overlays are computed on the fly when enough bars exist.
func (r *Router) handleChart(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	interval := strings.TrimSpace(c.Param("interval"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit <= 0 {
		limit = r.liveMax
	}

	var (
		series market.Series
		err    error
	)
	switch {
	case r.history != nil:
		series, err = r.history.QueryCandles(c.Request.Context(), symbol, interval, 0, 0, limit)
	case r.live != nil:
		var candles []market.Candle
		candles, err = r.live.Get(c.Request.Context(), symbol, interval)
		series = candles
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(series) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candles for " + symbol + " " + interval})
		return
	}

	input := visual.PageInput{Symbol: symbol, Interval: interval, Candles: series}
	if frame, err := indicator.Enrich(series, indicator.Settings{}); err == nil {
		input.Frame = &frame
	}

	if c.Query("format") == "png" {
		png, err := r.renderPNG(c.Request.Context(), input)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot failed: " + err.Error()})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := visual.RenderHTML(c.Writer, input); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
