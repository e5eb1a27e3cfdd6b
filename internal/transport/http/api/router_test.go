package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candlevault/internal/analysis/visual"
	"candlevault/internal/market"
	"candlevault/internal/store/candledb"
)

type fakeHistory struct {
	series   market.Series
	manifest candledb.Manifest
	report   candledb.IntegrityReport
	err      error
}

func (f *fakeHistory) QueryCandles(_ context.Context, _, _ string, _, _ int64, _ int) (market.Series, error) {
	return f.series, f.err
}

func (f *fakeHistory) Manifest(_ context.Context, _, _ string) (candledb.Manifest, error) {
	return f.manifest, f.err
}

func (f *fakeHistory) CheckIntegrity(_ context.Context, _, _ string, _, _ int64) (candledb.IntegrityReport, error) {
	return f.report, f.err
}

type fakeLive struct {
	candles []market.Candle
}

func (f *fakeLive) Get(context.Context, string, string) ([]market.Candle, error) {
	return f.candles, nil
}

func testCandles(n int) market.Series {
	out := make(market.Series, n)
	for i := range out {
		open := int64(i) * 60_000
		out[i] = market.Candle{
			OpenTime:  open,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    5,
			CloseTime: open + 59_999,
			Trades:    int64(10 + i),
		}
	}
	return out
}

func newTestServer(t *testing.T, history HistoryStore, live LiveStore) *httptest.Server {
	t.Helper()
	s, err := NewServer(ServerConfig{History: history, Live: live})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeHistory{}, nil)
	var body map[string]string
	code := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestCandlesEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeHistory{series: testCandles(3)}, nil)

	var body struct {
		Symbol  string       `json:"symbol"`
		Count   int          `json:"count"`
		Candles []candleJSON `json:"candles"`
	}
	code := getJSON(t, srv.URL+"/api/candles?symbol=btcusdc&interval=1m", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "BTCUSDC", body.Symbol, "symbol is upcased")
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Candles, 3)
	assert.Equal(t, int64(59_999), body.Candles[0].CloseTime)
}

func TestCandlesRequiresParams(t *testing.T) {
	srv := newTestServer(t, &fakeHistory{}, nil)
	var body map[string]string
	code := getJSON(t, srv.URL+"/api/candles?symbol=BTCUSDC", &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "interval")
}

func TestLiveCandlesEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, &fakeLive{candles: testCandles(2)})
	var body struct {
		Count int `json:"count"`
	}
	code := getJSON(t, srv.URL+"/api/candles/live?symbol=BTCUSDC&interval=1m", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, body.Count)

	t.Run("history routes absent without a history store", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/manifest?symbol=BTCUSDC&interval=1m")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestIntegrityEndpoint(t *testing.T) {
	report := candledb.IntegrityReport{Expected: 10, Present: 10}
	srv := newTestServer(t, &fakeHistory{report: report}, nil)
	var body struct {
		Complete bool `json:"complete"`
	}
	code := getJSON(t, srv.URL+"/api/integrity?symbol=BTCUSDC&interval=1m&start=0&end=600000", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Complete)
}

func TestChartEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeHistory{series: testCandles(60)}, nil)
	resp, err := http.Get(srv.URL + "/chart/BTCUSDC/1m")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestChartPNGEndpoint(t *testing.T) {
	gin.SetMode(gin.ReleaseMode)
	apiRouter := NewRouter(&fakeHistory{series: testCandles(60)}, nil, 0)
	var got visual.PageInput
	apiRouter.renderPNG = func(_ context.Context, input visual.PageInput) ([]byte, error) {
		got = input
		return []byte("png-bytes"), nil
	}
	engine := gin.New()
	engine.GET("/chart/:symbol/:interval", apiRouter.handleChart)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/chart/btcusdc/1m?format=png")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte("png-bytes"), body)
	assert.Equal(t, "BTCUSDC", got.Symbol)
	assert.Len(t, got.Candles, 60)

	t.Run("snapshot failure maps to 503", func(t *testing.T) {
		apiRouter.renderPNG = func(context.Context, visual.PageInput) ([]byte, error) {
			return nil, errors.New("chrome not found")
		}
		resp, err := http.Get(srv.URL + "/chart/BTCUSDC/1m?format=png")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestChartNoData(t *testing.T) {
	srv := newTestServer(t, &fakeHistory{}, nil)
	resp, err := http.Get(srv.URL + "/chart/BTCUSDC/1m")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
