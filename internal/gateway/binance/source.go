package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"candlevault/internal/logger"
	"candlevault/internal/market"
	symbolpkg "candlevault/internal/pkg/symbol"

	gobinance "github.com/adshao/go-binance/v2"
)

// Spot klines cap: limit above 1000 is clamped server-side anyway.
const maxKlineLimit = 1000

// Source implements market.Source against the Binance spot API through the
// go-binance SDK: paged REST klines for backfill, websocket kline streams
// for the live mirror.
type Source struct {
	cfg    Config
	client *gobinance.Client

	mu           sync.Mutex
	streamCancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := gobinance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			gobinance.SetWsProxyUrl(wsProxy)
		}
	}
	return &Source{cfg: final, client: client}, nil
}

// FetchRange returns up to limit candles with open_time in [startMs, endMs),
// ordered ascending. Binance treats endTime as inclusive, so the upper bound
// is shifted by one millisecond.
func (s *Source) FetchRange(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]market.Candle, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	cleanSymbol := symbolpkg.ToExchange(symbol)
	svc := s.client.NewKlinesService().
		Symbol(cleanSymbol).
		Interval(interval).
		StartTime(startMs).
		EndTime(endMs - 1).
		Limit(limit)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:      kl.OpenTime,
			Open:          parseFloat(kl.Open),
			High:          parseFloat(kl.High),
			Low:           parseFloat(kl.Low),
			Close:         parseFloat(kl.Close),
			Volume:        parseFloat(kl.Volume),
			CloseTime:     kl.CloseTime,
			QuoteVolume:   kl.QuoteAssetVolume,
			Trades:        kl.TradeNum,
			TakerBuyBase:  kl.TakerBuyBaseAssetVolume,
			TakerBuyQuote: kl.TakerBuyQuoteAssetVolume,
		})
	}
	return out, nil
}

// Subscribe opens one kline stream per (symbol, interval) pair, each inside
// a bounded reconnect loop. The returned channel closes when every loop has
// exited, which only happens on context cancellation or Close.
func (s *Source) Subscribe(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	type pair struct{ symbol, clean, interval string }
	var pairs []pair
	for _, sym := range symbols {
		trimmed := strings.ToUpper(strings.TrimSpace(sym))
		if trimmed == "" {
			continue
		}
		clean := symbolpkg.ToExchange(trimmed)
		for _, iv := range intervals {
			interval := strings.ToLower(strings.TrimSpace(iv))
			if interval == "" {
				continue
			}
			pairs = append(pairs, pair{symbol: trimmed, clean: clean, interval: interval})
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no valid symbols or intervals for subscription")
	}
	if s.cfg.Testnet {
		// Kline streams are public market data; the SDK serves them from
		// the production stream endpoint. Testnet only switches REST.
		logger.Warnf("[binance] testnet enabled: klines stream from the production websocket endpoint")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.streamCancel != nil {
		s.streamCancel()
	}
	s.streamCancel = cancel
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			s.runKlineLoop(subCtx, p.symbol, p.clean, p.interval, out, opts)
		}(p)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (s *Source) runKlineLoop(ctx context.Context, symbol, cleanSymbol, interval string, out chan<- market.CandleEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *gobinance.WsKlineEvent) {
			ce, ok := convertKlineEvent(event)
			if !ok {
				return
			}
			ce.Symbol = symbol
			select {
			case <-ctx.Done():
				return
			case out <- ce:
			default:
				logger.Warnf("[binance] kline channel full, drop %s %s", ce.Symbol, ce.Interval)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := gobinance.WsKlineServe(cleanSymbol, interval, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamCancel != nil {
		s.streamCancel()
		s.streamCancel = nil
	}
	return nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func convertKlineEvent(ev *gobinance.WsKlineEvent) (market.CandleEvent, bool) {
	if ev == nil {
		return market.CandleEvent{}, false
	}
	k := ev.Kline
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.ToLower(strings.TrimSpace(k.Interval))
	if symbol == "" || interval == "" {
		return market.CandleEvent{}, false
	}
	c := market.Candle{
		OpenTime:      k.StartTime,
		Open:          parseFloat(k.Open),
		High:          parseFloat(k.High),
		Low:           parseFloat(k.Low),
		Close:         parseFloat(k.Close),
		Volume:        parseFloat(k.Volume),
		CloseTime:     k.EndTime,
		QuoteVolume:   k.QuoteVolume,
		Trades:        k.TradeNum,
		TakerBuyBase:  k.ActiveBuyVolume,
		TakerBuyQuote: k.ActiveBuyQuoteVolume,
	}
	return market.CandleEvent{Symbol: symbol, Interval: interval, Final: k.IsFinal, Candle: c}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
