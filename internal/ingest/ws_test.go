package ingest

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"quantengine/internal/market"
)

func TestInstrumentFromStream(t *testing.T) {
	cases := map[string]string{
		"SOL_USDC_PERP@kline_1m": "SOL_USDC_PERP",
		"noAtSign":               "",
		"@leadingAt":             "",
	}
	for in, want := range cases {
		if got := instrumentFromStream(in); got != want {
			t.Fatalf("instrumentFromStream(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseFloatValidAndInvalid(t *testing.T) {
	if v := parseFloat("123.45"); v != 123.45 {
		t.Fatalf("parseFloat = %v, want 123.45", v)
	}
	if v := parseFloat("garbage"); !math.IsNaN(v) {
		t.Fatalf("parseFloat(garbage) = %v, want NaN", v)
	}
}

func TestParseMsAcceptsEpochOrRFC3339(t *testing.T) {
	if v := parseMs("1700000000000"); v != 1700000000000 {
		t.Fatalf("parseMs(epoch) = %d", v)
	}
	if v := parseMs("2023-11-14T22:13:20Z"); v != 1700000000000 {
		t.Fatalf("parseMs(rfc3339) = %d, want 1700000000000", v)
	}
	if v := parseMs("not a time"); v != 0 {
		t.Fatalf("parseMs(garbage) = %d, want 0", v)
	}
}

func TestHandleMessageDispatchesOnlyClosedKlines(t *testing.T) {
	m := NewManager("wss://example.invalid", []string{"SOL_USDC_PERP"}, "1m", nil)
	conn := m.connections[0]

	open := []byte(`{"stream":"SOL_USDC_PERP@kline_1m","data":{"start":"1700000000000","open":"1","high":"2","low":"0.5","close":"1.5","volume":"10","isClosed":false}}`)
	conn.handleMessage(open)
	if len(m.klineSink.queue) != 0 {
		t.Fatalf("expected an open (unclosed) kline to be dropped, got %d dispatches", len(m.klineSink.queue))
	}

	closed := []byte(`{"stream":"SOL_USDC_PERP@kline_1m","data":{"start":"1700000000000","open":"1","high":"2","low":"0.5","close":"1.5","volume":"10","isClosed":true}}`)
	conn.handleMessage(closed)
	if len(m.klineSink.queue) != 1 {
		t.Fatalf("expected a closed kline to dispatch once, got %d", len(m.klineSink.queue))
	}
	bar := <-m.klineSink.queue
	if bar.Instrument != "SOL_USDC_PERP" || bar.OpenTimeMs != 1700000000000 || bar.Close != 1.5 || !bar.Closed {
		t.Fatalf("got %+v", bar)
	}
}

func TestHandleMessageIgnoresMalformedEnvelope(t *testing.T) {
	m := NewManager("wss://example.invalid", []string{"SOL_USDC_PERP"}, "1m", nil)
	conn := m.connections[0]
	conn.handleMessage([]byte(`not json`))
	conn.handleMessage([]byte(`{"stream":""}`))
	conn.handleMessage([]byte(`{"stream":"SOL_USDC_PERP@kline_1m","data":"not-an-object"}`))
	if len(m.klineSink.queue) != 0 {
		t.Fatalf("expected malformed messages to be dropped, got %d dispatches", len(m.klineSink.queue))
	}
}

func TestManagerShardsInstrumentsAcrossConnections(t *testing.T) {
	instruments := make([]string, 250)
	for i := range instruments {
		instruments[i] = "INSTRUMENT"
	}
	m := NewManager("wss://example.invalid", instruments, "1m", nil)
	if len(m.connections) != 3 {
		t.Fatalf("expected 3 shards for 250 instruments at cap 100, got %d", len(m.connections))
	}
	if len(m.connections[0].instruments) != 100 || len(m.connections[1].instruments) != 100 || len(m.connections[2].instruments) != 50 {
		t.Fatalf("unexpected shard sizes: %d, %d, %d",
			len(m.connections[0].instruments), len(m.connections[1].instruments), len(m.connections[2].instruments))
	}
}

func TestManagerDispatchesBookTickerAndTradeEvents(t *testing.T) {
	m := NewManager("wss://example.invalid", []string{"SOL_USDC_PERP"}, "1m", nil)
	conn := m.connections[0]

	conn.handleMessage([]byte(`{"stream":"SOL_USDC_PERP@bookTicker","data":{"bidPrice":"100.1","askPrice":"100.2"}}`))
	ticker := <-m.bookTickerSink.queue
	if ticker.Instrument != "SOL_USDC_PERP" || ticker.EventType != market.EventBookTicker || ticker.Bid != 100.1 || ticker.Ask != 100.2 {
		t.Fatalf("got %+v", ticker)
	}

	conn.handleMessage([]byte(`{"stream":"SOL_USDC_PERP@aggTrade","data":{"price":"101.5","quantity":"2","timestamp":"1700000000000"}}`))
	trade := <-m.tradeSink.queue
	if trade.Instrument != "SOL_USDC_PERP" || trade.EventType != market.EventAggTrade || trade.Close != 101.5 || trade.Volume != 2 {
		t.Fatalf("got %+v", trade)
	}
}

func TestSinkPublishDropsOldestWhenQueueFull(t *testing.T) {
	s := newSink[int]("test", nil)
	for i := 0; i < sinkQueueSize+10; i++ {
		s.publish(i)
	}
	if len(s.queue) != sinkQueueSize {
		t.Fatalf("expected queue to stay at capacity %d, got %d", sinkQueueSize, len(s.queue))
	}
	if s.dropped != 10 {
		t.Fatalf("expected 10 dropped events, got %d", s.dropped)
	}
	first := <-s.queue
	if first != 10 {
		t.Fatalf("expected oldest surviving event to be 10 (0..9 dropped), got %d", first)
	}
}

func TestLatencyWindowSnapshotComputesPercentiles(t *testing.T) {
	w := newLatencyWindow()
	for i := 1; i <= 100; i++ {
		w.record(time.Duration(i) * time.Millisecond)
	}
	snap := w.Snapshot()
	if snap.SampleCount != 100 {
		t.Fatalf("expected 100 samples, got %d", snap.SampleCount)
	}
	if snap.Max != 100*time.Millisecond {
		t.Fatalf("expected max 100ms, got %v", snap.Max)
	}
	if snap.P95 != 95*time.Millisecond {
		t.Fatalf("expected p95 95ms, got %v", snap.P95)
	}
	if snap.Avg != 50*time.Millisecond+500*time.Microsecond {
		t.Fatalf("expected avg 50.5ms, got %v", snap.Avg)
	}
}

func TestLatencyWindowWrapsAtCapacity(t *testing.T) {
	w := newLatencyWindow()
	for i := 0; i < latencyWindowSize+5; i++ {
		w.record(time.Millisecond)
	}
	snap := w.Snapshot()
	if snap.SampleCount != latencyWindowSize {
		t.Fatalf("expected sample count capped at %d, got %d", latencyWindowSize, snap.SampleCount)
	}
}

func TestReconnectEscalationFiresEveryMaxAttempts(t *testing.T) {
	for attempt := 1; attempt <= maxAttempts*2; attempt++ {
		got := attempt%maxAttempts == 0
		want := attempt == maxAttempts || attempt == maxAttempts*2
		if got != want {
			t.Fatalf("attempt %d: escalate=%v, want %v", attempt, got, want)
		}
	}
}

func TestReconnectExhaustedErrorWrapsForErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("%w: 10 consecutive failed reconnect attempts for [SOL_USDC_PERP]", ErrReconnectExhausted)
	if !errors.Is(wrapped, ErrReconnectExhausted) {
		t.Fatalf("expected errors.Is to match ErrReconnectExhausted")
	}
}
