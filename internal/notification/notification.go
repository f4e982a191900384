// Package notification delivers operator alerts for stop triggers, exits
// and regime changes.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"kite-trading-bot/internal/events"
)

// Type classifies a notification.
type Type string

const (
	NotifyStopTriggered Type = "stop_triggered"
	NotifyExitFilled    Type = "exit_filled"
	NotifyExitRejected  Type = "exit_rejected"
	NotifyRegimeChange  Type = "regime_change"
	NotifyBreaker       Type = "breaker"
	NotifyError         Type = "error"
	NotifyInfo          Type = "info"
)

// Notification is one operator alert.
type Notification struct {
	Type      Type
	Title     string
	Message   string
	Ticker    string
	Price     float64
	Timestamp time.Time
}

// Notifier is one delivery channel.
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans a notification out to all enabled channels.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates an empty manager.
func NewManager(enabled bool) *Manager {
	return &Manager{enabled: enabled}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers to every enabled channel, returning the last error.
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendStopTriggered alerts a stop breach.
func (m *Manager) SendStopTriggered(ticker, source string, stop, price float64) error {
	return m.Send(&Notification{
		Type:    NotifyStopTriggered,
		Title:   fmt.Sprintf("Stop triggered: %s", ticker),
		Message: fmt.Sprintf("%s stop %.2f breached at %.2f", source, stop, price),
		Ticker:  ticker,
		Price:   price,
	})
}

// SendExitFilled alerts a completed exit.
func (m *Manager) SendExitFilled(ticker, reason string, quantity int64, price float64) error {
	return m.Send(&Notification{
		Type:    NotifyExitFilled,
		Title:   fmt.Sprintf("Exit filled: %s", ticker),
		Message: fmt.Sprintf("Sold %d @ %.2f (%s)", quantity, price, reason),
		Ticker:  ticker,
		Price:   price,
	})
}

// SendExitRejected alerts a broker rejection.
func (m *Manager) SendExitRejected(ticker, orderID string) error {
	return m.Send(&Notification{
		Type:    NotifyExitRejected,
		Title:   fmt.Sprintf("Exit REJECTED: %s", ticker),
		Message: fmt.Sprintf("Broker rejected exit order %s; it will re-trigger next cycle", orderID),
		Ticker:  ticker,
	})
}

// SendRegimeChange alerts a regime label transition.
func (m *Manager) SendRegimeChange(previous, current string, confidence float64) error {
	return m.Send(&Notification{
		Type:    NotifyRegimeChange,
		Title:   "Market regime changed",
		Message: fmt.Sprintf("%s -> %s (confidence %.0f%%)", previous, current, confidence*100),
	})
}

// SendError alerts an operational failure.
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:    NotifyError,
		Title:   title,
		Message: message,
	})
}

// WireEvents subscribes the manager to the bus so alerts flow without the
// watchdog knowing about notification channels.
func (m *Manager) WireEvents(bus *events.Bus) {
	bus.Subscribe(events.EventStopTriggered, func(e events.Event) {
		ticker, _ := e.Data["ticker"].(string)
		source, _ := e.Data["source"].(string)
		stop, _ := e.Data["stop"].(float64)
		price, _ := e.Data["price"].(float64)
		m.SendStopTriggered(ticker, source, stop, price)
	})
	bus.Subscribe(events.EventExitFilled, func(e events.Event) {
		ticker, _ := e.Data["ticker"].(string)
		reason, _ := e.Data["reason"].(string)
		quantity, _ := e.Data["quantity"].(int64)
		price, _ := e.Data["price"].(float64)
		m.SendExitFilled(ticker, reason, quantity, price)
	})
	bus.Subscribe(events.EventExitRejected, func(e events.Event) {
		ticker, _ := e.Data["ticker"].(string)
		orderID, _ := e.Data["order_id"].(string)
		m.SendExitRejected(ticker, orderID)
	})
	bus.Subscribe(events.EventRegimeChanged, func(e events.Event) {
		previous, _ := e.Data["previous"].(string)
		current, _ := e.Data["current"].(string)
		confidence, _ := e.Data["confidence"].(float64)
		m.SendRegimeChange(previous, current, confidence)
	})
	bus.Subscribe(events.EventBreakerTripped, func(e events.Event) {
		reason, _ := e.Data["reason"].(string)
		m.Send(&Notification{
			Type:    NotifyBreaker,
			Title:   "Circuit breaker TRIPPED",
			Message: reason,
		})
	})
}

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier. Missing credentials
// disable it silently.
func NewTelegramNotifier(botToken, chatID string, enabled bool) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		enabled:  enabled && botToken != "" && chatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
