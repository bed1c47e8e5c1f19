package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"driveguard/internal/events"
)

// DefaultAPIBase is the public Bot API endpoint
const DefaultAPIBase = "https://api.telegram.org"

var (
	ErrDisabled = errors.New("telegram bot is disabled")
	ErrCooldown = errors.New("cooldown period not yet elapsed")
)

// Config holds Telegram bot configuration
type Config struct {
	BotToken        string `yaml:"bot_token"`
	ChatID          string `yaml:"chat_id"`
	Enabled         bool   `yaml:"enabled"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
	NotifyRecovery  bool   `yaml:"notify_recovery"`
	APIBase         string `yaml:"api_base"`
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// TelegramBot sends driver alerts to a chat. Messages of the same event
// kind are rate limited by the cooldown.
type TelegramBot struct {
	mu              sync.Mutex
	config          Config
	apiBase         string
	httpClient      *http.Client
	clock           clock.Clock
	cooldownTracker map[events.Kind]time.Time
	cooldownPeriod  time.Duration
	logger          *zap.SugaredLogger

	wg sync.WaitGroup
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config Config, clk clock.Clock, logger *zap.SugaredLogger) *TelegramBot {
	cooldownPeriod := time.Duration(config.CooldownSeconds) * time.Second
	if cooldownPeriod == 0 {
		cooldownPeriod = 30 * time.Second
	}
	apiBase := strings.TrimSuffix(config.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &TelegramBot{
		config:          config,
		apiBase:         apiBase,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		clock:           clk,
		cooldownTracker: make(map[events.Kind]time.Time),
		cooldownPeriod:  cooldownPeriod,
		logger:          logger,
	}
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}
	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}
	return nil
}

// IsEnabled returns whether the bot is enabled
func (tb *TelegramBot) IsEnabled() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.config.Enabled
}

// Notifies reports whether events of kind produce a message
func (tb *TelegramBot) Notifies(kind events.Kind) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	switch kind {
	case events.KindDrowsiness, events.KindDriverAbsence:
		return true
	case events.KindAlert, events.KindDriverPresence:
		return tb.config.NotifyRecovery
	}
	return false
}

// OnEvent implements events.Handler. The request runs in the background so
// the event bus is never held up by the network.
func (tb *TelegramBot) OnEvent(ev events.Event) {
	if !tb.IsEnabled() || !tb.Notifies(ev.Kind) {
		return
	}

	tb.wg.Add(1)
	go func() {
		defer tb.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := tb.SendEventAlert(ctx, ev)
		switch {
		case err == nil:
			tb.logger.Infow("telegram alert sent", "kind", ev.Kind, "event_id", ev.ID)
		case errors.Is(err, ErrCooldown):
			tb.logger.Debugw("telegram alert suppressed", "kind", ev.Kind)
		default:
			tb.logger.Warnw("telegram alert failed", "kind", ev.Kind, "error", err)
		}
	}()
}

// Wait blocks until background sends have finished
func (tb *TelegramBot) Wait() {
	tb.wg.Wait()
}

// SendEventAlert formats and sends the message for ev, honoring the cooldown
func (tb *TelegramBot) SendEventAlert(ctx context.Context, ev events.Event) error {
	tb.mu.Lock()
	if !tb.checkCooldown(ev.Kind) {
		tb.mu.Unlock()
		return ErrCooldown
	}
	// Reserve the slot now so concurrent events of the same kind are suppressed.
	previous, hadPrevious := tb.cooldownTracker[ev.Kind]
	tb.updateCooldown(ev.Kind)
	tb.mu.Unlock()

	err := tb.SendMessage(ctx, FormatEvent(ev))
	if err != nil {
		tb.mu.Lock()
		if hadPrevious {
			tb.cooldownTracker[ev.Kind] = previous
		} else {
			delete(tb.cooldownTracker, ev.Kind)
		}
		tb.mu.Unlock()
	}
	return err
}

// SendMessage sends an HTML text message to the configured chat
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	tb.mu.Lock()
	config := tb.config
	tb.mu.Unlock()

	if !config.Enabled {
		return ErrDisabled
	}
	if config.BotToken == "" || config.ChatID == "" {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}

	payload := map[string]interface{}{
		"chat_id":    config.ChatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	return tb.sendTelegramRequest(ctx, config.BotToken, "sendMessage", payload)
}

var kindTitles = map[events.Kind]string{
	events.KindDrowsiness:     "😴 <b>Drowsiness detected!</b>",
	events.KindDriverAbsence:  "🚨 <b>Driver not detected!</b>",
	events.KindAlert:          "✅ <b>Driver is awake again</b>",
	events.KindDriverPresence: "✅ <b>Driver is back</b>",
}

// FormatEvent renders the chat message for an event
func FormatEvent(ev events.Event) string {
	title, ok := kindTitles[ev.Kind]
	if !ok {
		title = "ℹ️ <b>" + html.EscapeString(string(ev.Kind)) + "</b>"
	}

	zoneName, _ := ev.OccurredAt.Zone()
	lines := []string{
		title,
		"",
		"📝 " + html.EscapeString(ev.Detail),
		fmt.Sprintf("🕐 Time: %s %s", ev.OccurredAt.Format("2 Jan 2006, 15:04:05"), zoneName),
	}
	if ev.DurationSeconds > 0 {
		lines = append(lines, fmt.Sprintf("⏱ Duration: %.2fs", ev.DurationSeconds))
	}

	if ev.Location.Known() {
		where := html.EscapeString(ev.Location.Place)
		if lat, lng := ev.Location.Latitude(), ev.Location.Longitude(); lat != nil && lng != nil {
			coords := fmt.Sprintf("%.4f, %.4f", *lat, *lng)
			if where == "" {
				where = coords
			} else {
				where += " (" + coords + ")"
			}
		}
		lines = append(lines, "📍 Location: "+where)
	}
	return strings.Join(lines, "\n")
}

// sendTelegramRequest sends a generic request to Telegram API
func (tb *TelegramBot) sendTelegramRequest(ctx context.Context, token, method string, payload map[string]interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", tb.apiBase, token, method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return nil
}

// checkCooldown checks if the cooldown period has elapsed for an event kind
func (tb *TelegramBot) checkCooldown(kind events.Kind) bool {
	lastTime, exists := tb.cooldownTracker[kind]
	if !exists {
		return true
	}
	return tb.clock.Since(lastTime) >= tb.cooldownPeriod
}

// updateCooldown updates the last send time for an event kind
func (tb *TelegramBot) updateCooldown(kind events.Kind) {
	tb.cooldownTracker[kind] = tb.clock.Now()
}
