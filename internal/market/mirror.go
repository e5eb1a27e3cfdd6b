package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"candlevault/internal/logger"
)

// Mirror consumes a live kline stream and keeps two views in sync: an
// in-memory cache of recent bars (open bars included, latest wins) and a
// durable sink that receives only closed bars. It is a session object with
// an explicit Start/Close lifecycle; nothing here is process-global.
type Mirror struct {
	Cache  KlineStore
	Sink   MirrorSink
	Max    int
	Source StreamSource

	OnConnected    func()
	OnDisconnected func(error)
	OnEvent        func(CandleEvent)

	startOnce sync.Once

	statsMu sync.Mutex
	stored  int64
}

type MirrorOption func(*Mirror)

func WithMirrorCallbacks(onConnect func(), onDisconnect func(error)) MirrorOption {
	return func(m *Mirror) {
		m.OnConnected = onConnect
		m.OnDisconnected = onDisconnect
	}
}

func WithMirrorEventHandler(handler func(CandleEvent)) MirrorOption {
	return func(m *Mirror) {
		m.OnEvent = handler
	}
}

func NewMirror(cache KlineStore, sink MirrorSink, max int, src StreamSource, opts ...MirrorOption) *Mirror {
	m := &Mirror{Cache: cache, Sink: sink, Max: max, Source: src}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Mirror) Start(ctx context.Context, symbols, intervals []string) error {
	if m.Source == nil {
		return fmt.Errorf("mirror missing stream source")
	}
	if len(symbols) == 0 || len(intervals) == 0 {
		return fmt.Errorf("mirror requires symbols & intervals")
	}
	opts := SubscribeOptions{
		OnConnect:    m.OnConnected,
		OnDisconnect: m.OnDisconnected,
	}
	events, err := m.Source.Subscribe(ctx, symbols, intervals, opts)
	if err != nil {
		return err
	}
	m.startOnce.Do(func() {
		go m.consume(ctx, events)
	})
	logger.Infof("[mirror] subscribed symbols=%v intervals=%v", symbols, intervals)
	return nil
}

func (m *Mirror) consume(ctx context.Context, events <-chan CandleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.handle(ctx, evt)
		}
	}
}

func (m *Mirror) handle(ctx context.Context, evt CandleEvent) {
	symbol := strings.ToUpper(evt.Symbol)
	if m.Cache != nil {
		if err := m.Cache.Put(ctx, symbol, evt.Interval, []Candle{evt.Candle}, m.Max); err != nil {
			logger.Warnf("[mirror] cache put %s %s failed: %v", symbol, evt.Interval, err)
		}
	}
	if evt.Final && m.Sink != nil {
		if err := m.Sink.UpsertCandle(ctx, symbol, evt.Interval, evt.Candle); err != nil {
			logger.Warnf("[mirror] store %s %s open_time=%d failed: %v",
				symbol, evt.Interval, evt.Candle.OpenTime, err)
		} else {
			m.statsMu.Lock()
			m.stored++
			m.statsMu.Unlock()
			closed := time.UnixMilli(evt.Candle.CloseTime).UTC()
			logger.Infof("[mirror] %s %s candle stored close=%s vol=%s",
				symbol, evt.Interval, closed.Format("2006-01-02 15:04"), formatFloat(evt.Candle.Volume))
		}
	}
	if m.OnEvent != nil {
		m.OnEvent(evt)
	}
}

// Stored returns how many closed candles reached the sink in this session.
func (m *Mirror) Stored() int64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stored
}

func (m *Mirror) Stats() SourceStats {
	if m.Source == nil {
		return SourceStats{}
	}
	return m.Source.Stats()
}

func (m *Mirror) Close() {
	if m.Source != nil {
		if err := m.Source.Close(); err != nil {
			logger.Warnf("[mirror] source close error: %v", err)
		}
	}
}
