// Package ingest connects to the venue's market-data WebSocket and
// turns kline, book-ticker, and trade pushes into typed events for the
// pipeline. Connection lifecycle (dial, read loop, ping loop,
// reconnect signal) is adapted from the teacher's
// src/backpack/ws_client.go WSClient, generalized from a single
// Backpack-specific connection into a set of *Connection shards, each
// capped at maxInstrumentsPerConnection, with exponential-backoff
// reconnect escalating to a SAFE_MODE hook after repeated failure,
// which the teacher's fixed 5s retry does not have.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"quantengine/internal/market"
	"quantengine/internal/metrics"
)

const (
	pingInterval   = 30 * time.Second
	pongTimeout    = 20 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	maxBackoff     = 60 * time.Second
	baseBackoff    = 5 * time.Second
	maxAttempts    = 10

	// maxInstrumentsPerConnection is the per-connection subscription
	// cap; Manager shards instrument lists larger than this across
	// multiple *Connection objects.
	maxInstrumentsPerConnection = 100

	sinkQueueSize     = 256
	latencyWindowSize = 1000
)

// LatencyMetrics summarizes ingest processing latency (time from a
// raw message coming off the wire to sink dispatch completing) over
// the most recent samples in the rolling window.
type LatencyMetrics struct {
	Avg         time.Duration
	P95         time.Duration
	P99         time.Duration
	Max         time.Duration
	SampleCount int
}

// latencyWindow is a fixed-capacity ring buffer of recent processing
// latencies, used to compute LatencyMetrics on demand.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, latencyWindowSize)}
}

func (w *latencyWindow) record(d time.Duration) {
	metrics.IngestMessageLatencySeconds.Observe(d.Seconds())
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.filled = true
	}
}

// Snapshot computes LatencyMetrics over the samples currently held.
func (w *latencyWindow) Snapshot() LatencyMetrics {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencyMetrics{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyMetrics{
		Avg:         sum / time.Duration(n),
		P95:         percentile(sorted, 0.95),
		P99:         percentile(sorted, 0.99),
		Max:         sorted[n-1],
		SampleCount: n,
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// sink is a bounded, single-consumer fan-out queue for one event
// category. A slow subscriber callback must never block ingest, so
// publish drops the oldest queued item (and counts it) rather than
// blocking when the queue is full.
type sink[T any] struct {
	name    string
	queue   chan T
	dropped uint64
	logger  *slog.Logger
	cb      func(T)
}

func newSink[T any](name string, logger *slog.Logger) *sink[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &sink[T]{name: name, queue: make(chan T, sinkQueueSize), logger: logger}
}

func (s *sink[T]) publish(v T) {
	select {
	case s.queue <- v:
		return
	default:
	}
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- v:
	default:
	}
	n := atomic.AddUint64(&s.dropped, 1)
	metrics.IngestSinkDroppedTotal.WithLabelValues(s.name).Inc()
	if n == 1 || n%100 == 0 {
		s.logger.Warn("ingest sink queue full, dropping oldest event", "sink", s.name, "dropped_total", n)
	}
}

func (s *sink[T]) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-s.queue:
			if s.cb != nil {
				s.cb(v)
			}
		}
	}
}

// Manager owns a set of *Connection shards covering a full instrument
// list, plus the sinks every shard fans events into. It is the
// package's entry point for anything larger than a single
// connection's worth of instruments.
type Manager struct {
	url      string
	interval string
	logger   *slog.Logger

	klineSink       *sink[market.Bar]
	bookTickerSink  *sink[market.MarketData]
	tradeSink       *sink[market.MarketData]
	errorSink       *sink[error]

	latency *latencyWindow

	connections []*Connection
}

// NewManager builds a Manager that will shard instruments across
// ceil(len(instruments)/maxInstrumentsPerConnection) connections, each
// streaming interval klines plus book-ticker and trade events.
func NewManager(wsURL string, instruments []string, interval string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		url:            wsURL,
		interval:       interval,
		logger:         logger,
		klineSink:      newSink[market.Bar]("kline", logger),
		bookTickerSink: newSink[market.MarketData]("book_ticker", logger),
		tradeSink:      newSink[market.MarketData]("trade", logger),
		errorSink:      newSink[error]("error", logger),
		latency:        newLatencyWindow(),
	}
	for start := 0; start < len(instruments); start += maxInstrumentsPerConnection {
		end := start + maxInstrumentsPerConnection
		if end > len(instruments) {
			end = len(instruments)
		}
		shard := instruments[start:end]
		m.connections = append(m.connections, newConnection(m, shard))
	}
	return m
}

// OnKline registers cb to receive every closed kline dispatched by any
// shard. Only the most recently registered callback is retained, since
// the pipeline has exactly one kline consumer; call sites that need
// fan-out to several consumers should compose cb themselves.
func (m *Manager) OnKline(cb func(market.Bar)) { m.klineSink.cb = cb }

// OnBookTicker registers cb to receive best-bid/ask updates.
func (m *Manager) OnBookTicker(cb func(market.MarketData)) { m.bookTickerSink.cb = cb }

// OnTrade registers cb to receive aggregated trade prints.
func (m *Manager) OnTrade(cb func(market.MarketData)) { m.tradeSink.cb = cb }

// OnError registers cb to receive connection errors, including the
// escalation error a shard raises after exhausting maxAttempts
// consecutive reconnect failures.
func (m *Manager) OnError(cb func(error)) { m.errorSink.cb = cb }

// Latency returns the current processing-latency distribution across
// every shard.
func (m *Manager) Latency() LatencyMetrics { return m.latency.Snapshot() }

// Run starts every shard and the sink dispatch loops, blocking until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); m.klineSink.run(ctx) }()
	go func() { defer wg.Done(); m.bookTickerSink.run(ctx) }()
	go func() { defer wg.Done(); m.tradeSink.run(ctx) }()
	go func() { defer wg.Done(); m.errorSink.run(ctx) }()

	for _, conn := range m.connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.Run(ctx)
		}(conn)
	}
	wg.Wait()
}

// Connection is one WebSocket connection carrying up to
// maxInstrumentsPerConnection instruments' kline, book-ticker, and
// trade streams. It reconnects on failure with exponential backoff
// (base 5s, cap 60s) and reports to its Manager's error sink after
// maxAttempts consecutive failures so the caller can escalate to
// SAFE_MODE.
type Connection struct {
	manager     *Manager
	instruments []string

	mu   sync.RWMutex
	conn *websocket.Conn
}

func newConnection(m *Manager, instruments []string) *Connection {
	return &Connection{manager: m, instruments: instruments}
}

// Run dials and streams until ctx is cancelled, reconnecting on every
// failure with exponential backoff capped at maxBackoff and reporting
// a SAFE_MODE escalation error every maxAttempts consecutive failures.
func (c *Connection) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		streamed, err := c.runOnce(ctx)
		if err != nil {
			c.manager.logger.Warn("market data connection dropped", "error", err, "attempt", attempt+1)
			metrics.IngestReconnectsTotal.Inc()
		}
		if ctx.Err() != nil {
			return
		}
		if streamed {
			attempt = 0
		}
		attempt++
		if attempt%maxAttempts == 0 {
			metrics.IngestReconnectExhaustedTotal.Inc()
			c.manager.errorSink.publish(fmt.Errorf("%w: %d consecutive failed reconnect attempts for %v", ErrReconnectExhausted, attempt, c.instruments))
		}
		backoff := time.Duration(math.Min(float64(maxBackoff), float64(baseBackoff)*math.Pow(2, float64(attempt-1))))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// ErrReconnectExhausted is wrapped into the error a Connection
// publishes to the error sink once it has failed maxAttempts
// consecutive times; callers watching OnError can match it with
// errors.Is to trigger a SAFE_MODE transition.
var ErrReconnectExhausted = fmt.Errorf("ingest: reconnect attempts exhausted")

// runOnce dials, subscribes and reads until the connection fails. The
// bool reports whether the connection got as far as streaming, so Run
// can reset its consecutive-failure count.
func (c *Connection) runOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.manager.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial market data websocket: %w", err)
	}
	c.setConn(conn)
	defer c.setConn(nil)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for _, instrument := range c.instruments {
		if err := c.subscribeKlines(conn, instrument); err != nil {
			return false, fmt.Errorf("subscribe klines %s: %w", instrument, err)
		}
		if err := c.subscribeBookTicker(conn, instrument); err != nil {
			return false, fmt.Errorf("subscribe book ticker %s: %w", instrument, err)
		}
	}

	done := make(chan struct{})
	var pingWG sync.WaitGroup
	pingWG.Add(1)
	go func() {
		defer pingWG.Done()
		c.pingLoop(ctx, conn, done)
	}()
	defer func() {
		close(done)
		pingWG.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read market data message: %w", err)
		}
		received := time.Now()
		c.handleMessage(data)
		c.manager.latency.record(time.Since(received))
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
	}
}

func (c *Connection) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Connection) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.manager.logger.Warn("market data ping failed", "error", err)
				continue
			}
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
		}
	}
}

type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (c *Connection) subscribeKlines(conn *websocket.Conn, instrument string) error {
	return c.subscribe(conn, fmt.Sprintf("%s@kline_%s", instrument, c.manager.interval))
}

func (c *Connection) subscribeBookTicker(conn *websocket.Conn, instrument string) error {
	return c.subscribe(conn, fmt.Sprintf("%s@bookTicker", instrument))
}

// subscribeTrades issues an aggregated-trade subscription. It is not
// called during runOnce's startup sequence by default (the pipeline
// has no trade consumer yet), but is exposed so a Manager caller that
// registers OnTrade can extend a Connection's subscription set.
func (c *Connection) subscribeTrades(conn *websocket.Conn, instrument string) error {
	return c.subscribe(conn, fmt.Sprintf("%s@aggTrade", instrument))
}

func (c *Connection) subscribe(conn *websocket.Conn, stream string) error {
	msg := subscribeMessage{Method: "SUBSCRIBE", Params: []string{stream}, ID: time.Now().UnixNano()}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klinePayload struct {
	Start  string `json:"start"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
	Closed bool   `json:"isClosed"`
}

type bookTickerPayload struct {
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

type aggTradePayload struct {
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Timestamp string `json:"timestamp"`
}

func (c *Connection) handleMessage(data []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Stream == "" {
		return
	}

	instrument := instrumentFromStream(env.Stream)
	if instrument == "" {
		return
	}

	switch {
	case streamContains(env.Stream, "@kline_"):
		c.handleKline(instrument, env.Data)
	case streamContains(env.Stream, "@bookTicker"):
		c.handleBookTicker(instrument, env.Data)
	case streamContains(env.Stream, "@aggTrade"):
		c.handleTrade(instrument, env.Data)
	}
}

func (c *Connection) handleKline(instrument string, raw json.RawMessage) {
	var k klinePayload
	if err := json.Unmarshal(raw, &k); err != nil {
		return
	}
	if !k.Closed {
		return
	}
	bar := market.Bar{
		Instrument: instrument,
		OpenTimeMs: parseMs(k.Start),
		Open:       parseFloat(k.Open),
		High:       parseFloat(k.High),
		Low:        parseFloat(k.Low),
		Close:      parseFloat(k.Close),
		Volume:     parseFloat(k.Volume),
		Closed:     true,
	}
	c.manager.klineSink.publish(bar)
}

func (c *Connection) handleBookTicker(instrument string, raw json.RawMessage) {
	var bt bookTickerPayload
	if err := json.Unmarshal(raw, &bt); err != nil {
		return
	}
	c.manager.bookTickerSink.publish(market.MarketData{
		Instrument: instrument,
		EventType:  market.EventBookTicker,
		ReceivedMs: uint64(time.Now().UnixMilli()),
		Bid:        parseFloat(bt.BidPrice),
		Ask:        parseFloat(bt.AskPrice),
	})
}

func (c *Connection) handleTrade(instrument string, raw json.RawMessage) {
	var tr aggTradePayload
	if err := json.Unmarshal(raw, &tr); err != nil {
		return
	}
	c.manager.tradeSink.publish(market.MarketData{
		Instrument:  instrument,
		EventType:   market.EventAggTrade,
		EventTimeMs: uint64(parseMs(tr.Timestamp)),
		ReceivedMs:  uint64(time.Now().UnixMilli()),
		Close:       parseFloat(tr.Price),
		Volume:      parseFloat(tr.Quantity),
	})
}

func streamContains(stream, marker string) bool {
	for i := 0; i+len(marker) <= len(stream); i++ {
		if stream[i:i+len(marker)] == marker {
			return true
		}
	}
	return false
}

func instrumentFromStream(stream string) string {
	for i := 0; i < len(stream); i++ {
		if stream[i] == '@' {
			return stream[:i]
		}
	}
	return ""
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseMs(s string) int64 {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli()
	}
	return 0
}
