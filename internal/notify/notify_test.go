package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/config"
	"marketsim/internal/crisis"
	"marketsim/internal/execution"
	"marketsim/internal/fixedpoint"
	"marketsim/internal/news"
	"marketsim/internal/resilience"
)

type captureChannel struct {
	mu   sync.Mutex
	sent []Notification
}

func (c *captureChannel) Name() string    { return "capture" }
func (c *captureChannel) IsEnabled() bool { return true }
func (c *captureChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func sampleTrade() *execution.Trade {
	return &execution.Trade{
		ID: "TRD-000001", OrderID: "ORD-000001", Side: execution.SideSell, OrderType: execution.OrderStopLoss,
		InstrumentID: 1, Quantity: 5, Price: fixedpoint.FromInt(72000), Fee: fixedpoint.FromInt(54),
		Profit: fixedpoint.FromInt(1234567), Tick: 12,
	}
}

func TestFormatAmount(t *testing.T) {
	tests := map[string]string{
		"0":            "0",
		"999":          "999",
		"1000":         "1,000",
		"1234567.89":   "1,234,567.89",
		"-280000":      "-280,000",
		"10000000.125": "10,000,000.125",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatAmount(in), in)
	}
}

func TestMultiNotifier_LevelFilter(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		level string
		want  []NotificationType
	}{
		{"all", []NotificationType{NotificationTrade, NotificationNews, NotificationError}},
		{"trades_only", []NotificationType{NotificationTrade}},
		{"errors_only", []NotificationType{NotificationError}},
		{"", []NotificationType{NotificationTrade, NotificationNews, NotificationError}},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			ch := &captureChannel{}
			mn := NewMultiNotifier(&config.NotificationConfig{Level: tt.level})
			mn.AddChannel(ch)

			require.NoError(t, mn.SendTrade(ctx, "SMSG", sampleTrade()))
			require.NoError(t, mn.SendNews(ctx, 3, &news.Effect{Headline: "chip demand", Category: news.CategoryPositive}))
			require.NoError(t, mn.SendError(ctx, errors.New("boom"), "tick"))

			var got []NotificationType
			for _, n := range ch.sent {
				got = append(got, n.Type)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMultiNotifier_TradeContent(t *testing.T) {
	ch := &captureChannel{}
	mn := NewMultiNotifier(&config.NotificationConfig{Level: "all"})
	mn.AddChannel(ch)
	mn.SetSession("sess-1")

	require.NoError(t, mn.SendTrade(context.Background(), "SMSG", sampleTrade()))
	require.Len(t, ch.sent, 1)
	n := ch.sent[0]
	assert.Equal(t, "sess-1", n.SessionID)
	assert.Equal(t, 12, n.Tick)
	assert.Contains(t, n.Title, "SELL SMSG")
	assert.Contains(t, n.Message, "Price: 72,000")
	assert.Contains(t, n.Message, "P&L: 1,234,567")
	assert.Equal(t, "72000", n.Data["price"])
	assert.False(t, n.Timestamp.IsZero())
}

func TestMultiNotifier_CrisisAndSummary(t *testing.T) {
	ch := &captureChannel{}
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(ch)
	ctx := context.Background()

	ev := &crisis.Event{Type: "pandemic", Headline: "Outbreak spreads", Severity: 1.1, ActualDuration: 900}
	require.NoError(t, mn.SendCrisis(ctx, 40, ev, true))
	require.NoError(t, mn.SendCrisis(ctx, 940, ev, false))
	require.NoError(t, mn.SendSummary(ctx, &SessionSummary{SessionID: "s", SeasonID: "season", Ticks: 1000, TotalTrades: 3, Cash: "280000", Equity: "1000000", Checksum: "abc"}))

	require.Len(t, ch.sent, 3)
	assert.Equal(t, "Crisis: Outbreak spreads", ch.sent[0].Title)
	assert.Equal(t, "Crisis over: pandemic", ch.sent[1].Title)
	assert.Equal(t, NotificationSummary, ch.sent[2].Type)
	assert.Contains(t, ch.sent[2].Message, "Equity: 1,000,000")
	assert.Equal(t, "s", ch.sent[2].SessionID)
}

func TestWebhookNotifier(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mn := NewMultiNotifier(&config.NotificationConfig{Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL}})
	require.NoError(t, mn.SendTrade(context.Background(), "SMSG", sampleTrade()))
	assert.Equal(t, NotificationTrade, got.Type)
	assert.Equal(t, "TRD-000001", got.Data["trade_id"])
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := wh.Send(context.Background(), Notification{Type: NotificationError})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	disabled := NewWebhookNotifier(config.WebhookConfig{Enabled: true})
	assert.False(t, disabled.IsEnabled(), "no url means disabled")
	assert.NoError(t, disabled.Send(context.Background(), Notification{}))
}

func TestLogChannel(t *testing.T) {
	var buf bytes.Buffer
	ch := NewLogChannel(zerolog.New(&buf))

	require.NoError(t, ch.Send(context.Background(), Notification{
		Type: NotificationTrade, SessionID: "s1", Tick: 7, Title: "filled",
		Data: map[string]interface{}{"code": "SMSG"},
	}))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "trade", line["type"])
	assert.Equal(t, "SMSG", line["code"])
	assert.Equal(t, "filled", line["message"])
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaChannel(t *testing.T) {
	fw := &fakeWriter{}
	ch := &KafkaChannel{writer: fw, topic: "marketsim.events"}

	require.NoError(t, ch.Send(context.Background(), Notification{Type: NotificationNews, SessionID: "sess-9", Tick: 4, Title: "x"}))
	require.Len(t, fw.msgs, 1)
	msg := fw.msgs[0]
	assert.Equal(t, "sess-9", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "news", string(msg.Headers[0].Value))

	var decoded Notification
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, 4, decoded.Tick)

	fw.err = errors.New("leader not available")
	err := ch.Send(context.Background(), Notification{})
	assert.ErrorContains(t, err, "marketsim.events")

	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(ch)
	require.NoError(t, mn.Close())
	assert.True(t, fw.closed)
}

func TestNewKafkaChannel(t *testing.T) {
	_, err := NewKafkaChannel(WithTopic("t"))
	assert.Error(t, err, "brokers are required")

	ch, err := NewKafkaChannel(WithBrokers("localhost:9092"), WithTopic("sim"), WithAsync(true))
	require.NoError(t, err)
	assert.Equal(t, "kafka", ch.Name())
	assert.True(t, ch.IsEnabled())
	assert.Equal(t, "sim", ch.topic)
	require.NoError(t, ch.Close())
}

func TestNewKafkaChannel_Batching(t *testing.T) {
	ch, err := NewKafkaChannel(WithBrokers("localhost:9092"), WithBatch(10, 50*time.Millisecond))
	require.NoError(t, err)
	w, ok := ch.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 10, w.BatchSize)
	assert.Equal(t, 50*time.Millisecond, w.BatchTimeout)

	ch, err = NewKafkaChannel(WithBrokers("localhost:9092"), WithBatch(0, 0))
	require.NoError(t, err)
	w = ch.writer.(*kafka.Writer)
	assert.Equal(t, 100, w.BatchSize)
	assert.Equal(t, time.Second, w.BatchTimeout)
}

func TestMultiNotifier_Stats(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(&captureChannel{})
	assert.Empty(t, mn.Stats())

	inner := &flakyChannel{failures: 1000, err: errors.New("connection refused")}
	mn.AddChannel(GuardWith(inner, resilience.CircuitBreakerConfig{FailureThreshold: 10, Timeout: time.Hour}, quickRetry(1)))
	mn.AddChannel(GuardWith(&captureChannel{}, resilience.DefaultCircuitBreakerConfig(), quickRetry(1)))

	assert.ErrorContains(t, mn.SendNews(context.Background(), 3, &news.Effect{Headline: "x"}), "flaky")

	stats := mn.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "flaky", stats[0].Name)
	assert.Equal(t, 100.0, stats[0].FailureRate())
	assert.Equal(t, 0.0, stats[1].FailureRate())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	_, err := FromConfig(cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.Kafka.Enabled = false
	cfg.Notifications.Enabled = true
	mn, err := FromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, mn.channels, 1)
	assert.Equal(t, "log", mn.channels[0].Name())
}

type flakyChannel struct {
	calls    int
	failures int
	err      error
}

func (f *flakyChannel) Name() string    { return "flaky" }
func (f *flakyChannel) IsEnabled() bool { return true }
func (f *flakyChannel) Send(context.Context, Notification) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func quickRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
}

func TestGuardedChannel_RetriesTransientFailures(t *testing.T) {
	inner := &flakyChannel{failures: 2, err: errors.New("timeout")}
	g := GuardWith(inner, resilience.CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute}, quickRetry(3))

	require.NoError(t, g.Send(context.Background(), Notification{}))
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "flaky", g.Name())
	assert.Equal(t, resilience.CircuitClosed, g.Stats().State)
}

func TestGuardedChannel_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &flakyChannel{failures: 1000, err: errors.New("connection refused")}
	g := GuardWith(inner, resilience.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour}, quickRetry(2))
	ctx := context.Background()

	assert.Error(t, g.Send(ctx, Notification{}))
	assert.Error(t, g.Send(ctx, Notification{}))
	assert.Equal(t, 4, inner.calls)

	assert.ErrorIs(t, g.Send(ctx, Notification{}), resilience.ErrCircuitOpen)
	assert.Equal(t, 4, inner.calls, "open circuit skips the sink")
	assert.Equal(t, int64(1), g.Stats().TotalRejected)
}

func TestGuardedChannel_WebhookClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := GuardWith(NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL}),
		resilience.DefaultCircuitBreakerConfig(), quickRetry(5))
	err := g.Send(context.Background(), Notification{Type: NotificationError})
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), hits.Load())
}

func TestGuardedChannel_ClosesInner(t *testing.T) {
	fw := &fakeWriter{}
	g := Guard(&KafkaChannel{writer: fw, topic: "t"})
	require.NoError(t, g.Close())
	assert.True(t, fw.closed)

	assert.NoError(t, Guard(NewLogChannel(zerolog.Nop())).Close())
}
