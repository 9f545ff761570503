// Package notify delivers simulation events (fills, news, crises, session
// summaries) to external sinks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketsim/internal/config"
	"marketsim/internal/crisis"
	"marketsim/internal/execution"
	"marketsim/internal/news"
	"marketsim/internal/resilience"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendTrade(ctx context.Context, code string, trade *execution.Trade) error
	SendNews(ctx context.Context, tick int, effect *news.Effect) error
	SendCrisis(ctx context.Context, tick int, event *crisis.Event, started bool) error
	SendSummary(ctx context.Context, summary *SessionSummary) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType       `json:"type"`
	SessionID string                 `json:"sessionId,omitempty"`
	Tick      int                    `json:"tick"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationTrade   NotificationType = "trade"
	NotificationNews    NotificationType = "news"
	NotificationCrisis  NotificationType = "crisis"
	NotificationError   NotificationType = "error"
	NotificationSummary NotificationType = "summary"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelTradesOnly NotificationLevel = "trades_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// SessionSummary is sent when a session ends.
type SessionSummary struct {
	SessionID   string
	SeasonID    string
	Ticks       int
	TotalTrades int
	Cash        string
	Equity      string
	Checksum    string
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels  []NotificationChannel
	level     NotificationLevel
	sessionID string
	mu        sync.RWMutex
}

// formatAmount groups the integer part of a decimal string by thousands.
func formatAmount(s string) string {
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, decPart, hasDec := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasDec {
		out += "." + decPart
	}
	if negative {
		out = "-" + out
	}
	return out
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, Guard(NewWebhookNotifier(cfg.Webhook)))
	}

	return mn
}

// SetSession tags every outgoing notification with a session id.
func (mn *MultiNotifier) SetSession(id string) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.sessionID = id
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelTradesOnly:
		return notifType == NotificationTrade
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	if n.SessionID == "" {
		n.SessionID = mn.sessionID
	}
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendTrade sends a fill notification.
func (mn *MultiNotifier) SendTrade(ctx context.Context, code string, trade *execution.Trade) error {
	title := fmt.Sprintf("Order filled: %s %s", trade.Side, code)
	message := fmt.Sprintf(
		"Instrument: %s\nAction: %s (%s)\nQuantity: %d\nPrice: %s\nFee: %s",
		code,
		trade.Side,
		trade.OrderType,
		trade.Quantity,
		formatAmount(trade.Price.String()),
		formatAmount(trade.Fee.String()),
	)
	if trade.Side == execution.SideSell || trade.Side == execution.SideCover {
		message += fmt.Sprintf("\nP&L: %s", formatAmount(trade.Profit.String()))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationTrade,
		Tick:    trade.Tick,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"trade_id":      trade.ID,
			"order_id":      trade.OrderID,
			"instrument_id": trade.InstrumentID,
			"code":          code,
			"side":          trade.Side,
			"order_type":    trade.OrderType,
			"quantity":      trade.Quantity,
			"price":         trade.Price.String(),
			"fee":           trade.Fee.String(),
			"profit":        trade.Profit.String(),
		},
	})
}

// SendNews sends a news notification.
func (mn *MultiNotifier) SendNews(ctx context.Context, tick int, effect *news.Effect) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationNews,
		Tick:    tick,
		Title:   effect.Headline,
		Message: fmt.Sprintf("%s news (%s scope), impact %+.4f%%", effect.Category, effect.Scope, effect.Impact*100),
		Data: map[string]interface{}{
			"news_id":  effect.ID,
			"category": effect.Category,
			"scope":    effect.Scope,
			"sector":   effect.Sector,
			"impact":   effect.Impact,
			"ticks":    effect.RemainingTicks,
		},
	})
}

// SendCrisis sends a crisis start or end notification.
func (mn *MultiNotifier) SendCrisis(ctx context.Context, tick int, event *crisis.Event, started bool) error {
	title := fmt.Sprintf("Crisis over: %s", event.Type)
	if started {
		title = fmt.Sprintf("Crisis: %s", event.Headline)
	}
	return mn.Send(ctx, Notification{
		Type:    NotificationCrisis,
		Tick:    tick,
		Title:   title,
		Message: fmt.Sprintf("Severity %.2f over %d ticks", event.Severity, event.ActualDuration),
		Data: map[string]interface{}{
			"type":     event.Type,
			"severity": event.Severity,
			"duration": event.ActualDuration,
			"started":  started,
		},
	})
}

// SendSummary sends the end-of-session summary.
func (mn *MultiNotifier) SendSummary(ctx context.Context, summary *SessionSummary) error {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Season: %s\n", summary.SeasonID))
	sb.WriteString(fmt.Sprintf("Ticks: %d\n", summary.Ticks))
	sb.WriteString(fmt.Sprintf("Trades: %d\n", summary.TotalTrades))
	sb.WriteString(fmt.Sprintf("Cash: %s\n", formatAmount(summary.Cash)))
	sb.WriteString(fmt.Sprintf("Equity: %s", formatAmount(summary.Equity)))

	return mn.Send(ctx, Notification{
		Type:      NotificationSummary,
		SessionID: summary.SessionID,
		Tick:      summary.Ticks,
		Title:     "Session summary",
		Message:   sb.String(),
		Data: map[string]interface{}{
			"season_id":    summary.SeasonID,
			"ticks":        summary.Ticks,
			"total_trades": summary.TotalTrades,
			"cash":         summary.Cash,
			"equity":       summary.Equity,
			"checksum":     summary.Checksum,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   "Error occurred",
		Message: fmt.Sprintf("Context: %s\nError: %v", errContext, err),
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification as JSON.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "marketsim/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The receiver rejected the payload; sending it again will not help.
		return resilience.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error { return nil }

// SendTrade does nothing.
func (n *NoOpNotifier) SendTrade(ctx context.Context, code string, trade *execution.Trade) error {
	return nil
}

// SendNews does nothing.
func (n *NoOpNotifier) SendNews(ctx context.Context, tick int, effect *news.Effect) error { return nil }

// SendCrisis does nothing.
func (n *NoOpNotifier) SendCrisis(ctx context.Context, tick int, event *crisis.Event, started bool) error {
	return nil
}

// SendSummary does nothing.
func (n *NoOpNotifier) SendSummary(ctx context.Context, summary *SessionSummary) error { return nil }

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error { return nil }

// FromConfig builds a MultiNotifier with every sink enabled in cfg: the
// webhook, a log channel and the Kafka channel.
func FromConfig(cfg *config.Config, logger zerolog.Logger) (*MultiNotifier, error) {
	mn := NewMultiNotifier(&cfg.Notifications)
	if cfg.Notifications.Enabled {
		mn.AddChannel(NewLogChannel(logger))
	}
	if cfg.Kafka.Enabled {
		ch, err := NewKafkaChannel(
			WithBrokers(cfg.Kafka.Brokers...),
			WithTopic(cfg.Kafka.Topic),
			WithAsync(cfg.Kafka.Async),
			WithBatch(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka channel: %w", err)
		}
		mn.AddChannel(Guard(ch))
	}
	return mn, nil
}

// Stats returns the breaker statistics of every guarded channel.
func (mn *MultiNotifier) Stats() []resilience.CircuitBreakerStats {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	var stats []resilience.CircuitBreakerStats
	for _, ch := range mn.channels {
		if g, ok := ch.(*GuardedChannel); ok {
			stats = append(stats, g.Stats())
		}
	}
	return stats
}

// Close closes every channel that holds resources.
func (mn *MultiNotifier) Close() error {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	var errs []string
	for _, ch := range mn.channels {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing notifiers: %s", strings.Join(errs, "; "))
	}
	return nil
}
