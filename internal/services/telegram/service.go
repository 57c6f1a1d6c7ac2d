// Package telegram sends backup run reports to a Telegram chat.
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
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/mysqldumper/internal/models"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Telegram Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Service defines the interface for Telegram notification operations.
type Service interface {
	Notify(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	baseURL    string
	logger     zerolog.Logger
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &http.Client{Timeout: 30 * time.Second}, DefaultBaseURL)
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify posts the run report to the configured chat.
func (s *Impl) Notify(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) error {
	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      FormatMessage(msg),
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token, so it is kept out of the error.
		return fmt.Errorf("failed to send request: %w", unwrapURLError(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var apiResp apiResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &apiResp) == nil && apiResp.Description != "" {
			return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, apiResp.Description)
		}
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	s.logger.Info().Msg("Telegram notification sent")
	return nil
}

// FormatMessage renders msg as Telegram HTML.
func FormatMessage(msg models.TelegramMessage) string {
	var b strings.Builder

	if msg.Success {
		b.WriteString("✅ <b>MySQL Backup Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>MySQL Backup Failed</b>\n\n")
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", html.EscapeString(msg.Host))
	fmt.Fprintf(&b, "🗄 <b>Database:</b> %s\n", html.EscapeString(msg.Database))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second))
	if msg.RunID != "" {
		fmt.Fprintf(&b, "🔖 <b>Run:</b> <code>%s</code>\n", html.EscapeString(msg.RunID))
	}

	if msg.Success {
		b.WriteString("\n<b>📦 Dump:</b>\n")
		fmt.Fprintf(&b, "  • File: <code>%s</code>\n", html.EscapeString(msg.Filename))
		fmt.Fprintf(&b, "  • Size: %s\n", humanize.IBytes(uint64(max(msg.SizeBytes, 0))))
		fmt.Fprintf(&b, "  • Compressed: %s\n", yesNo(msg.Compressed))

		if msg.ArtifactsRemoved > 0 || msg.ArtifactsKept > 0 {
			b.WriteString("\n<b>🗑 Rotation:</b>\n")
			fmt.Fprintf(&b, "  • Backups kept: %d\n", msg.ArtifactsKept)
			fmt.Fprintf(&b, "  • Backups removed: %d\n", msg.ArtifactsRemoved)
		}
	} else {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		fmt.Fprintf(&b, "  • Failed step: %s\n", html.EscapeString(msg.FailedStep))
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", html.EscapeString(msg.ErrorMessage))
	}

	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
