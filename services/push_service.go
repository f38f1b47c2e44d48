package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"go.uber.org/zap"
)

const (
	// ExpoPushURL is the Expo Push API endpoint
	ExpoPushURL = "https://exp.host/--/api/v2/push/send"

	defaultPushTimeout = 30 * time.Second
)

// ErrDeviceNotRegistered is returned when the provider no longer knows the device.
var ErrDeviceNotRegistered = errors.New("device not registered")

// ExpoMessage is the Expo push API message format
type ExpoMessage struct {
	To       string                 `json:"to"`
	Title    string                 `json:"title,omitempty"`
	Body     string                 `json:"body,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Sound    string                 `json:"sound,omitempty"`
	Priority string                 `json:"priority,omitempty"`
}

// ExpoResponse represents the Expo Push API response
type ExpoResponse struct {
	Data []ExpoTicket `json:"data"`
}

// ExpoTicket represents a single push ticket from Expo
type ExpoTicket struct {
	Status  string            `json:"status"` // "ok" or "error"
	ID      string            `json:"id,omitempty"`
	Message string            `json:"message,omitempty"`
	Details *ExpoErrorDetails `json:"details,omitempty"`
}

// ExpoErrorDetails contains details about push errors
type ExpoErrorDetails struct {
	Error string `json:"error,omitempty"` // "DeviceNotRegistered", "InvalidCredentials", etc.
}

// ExpoPushService presents notifications through the Expo push API.
type ExpoPushService struct {
	url         string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewExpoPushService creates an Expo presenter from the push configuration.
func NewExpoPushService(cfg config.PushConfig, log *zap.Logger) *ExpoPushService {
	url := cfg.ExpoURL
	if url == "" {
		url = ExpoPushURL
	}
	timeout := defaultPushTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &ExpoPushService{
		url:         url,
		accessToken: cfg.ExpoAccessKey,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log.Named("ExpoPushService"),
	}
}

// DisplayNotification sends one system notification to the Expo push token device.
func (s *ExpoPushService) DisplayNotification(ctx context.Context, device string, t types.NotificationType, payload json.RawMessage) error {
	if device == "" {
		return fmt.Errorf("expo push: empty device token")
	}
	rendered := RenderPush(t, payload)
	msg := ExpoMessage{
		To:       device,
		Title:    rendered.Title,
		Body:     rendered.Body,
		Data:     rendered.Data,
		Sound:    "default",
		Priority: "high",
	}

	tickets, err := s.send(ctx, []ExpoMessage{msg})
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	ticket := tickets[0]
	masked := logger.MaskSensitiveString(device, 8, 4)
	switch ticket.Status {
	case "ok":
		s.logger.Debug("Push notification ticket successful",
			zap.String("token", masked),
			zap.String("ticketId", ticket.ID))
		return nil
	case "error":
		detail := ""
		if ticket.Details != nil {
			detail = ticket.Details.Error
		}
		s.logger.Warn("Push notification failed",
			zap.String("token", masked),
			zap.String("message", ticket.Message),
			zap.String("errorDetails", detail))
		if detail == "DeviceNotRegistered" {
			return ErrDeviceNotRegistered
		}
		return fmt.Errorf("expo push ticket error: %s", ticket.Message)
	default:
		s.logger.Warn("Unexpected push ticket status",
			zap.String("token", masked),
			zap.String("status", ticket.Status))
		return nil
	}
}

func (s *ExpoPushService) send(ctx context.Context, messages []ExpoMessage) ([]ExpoTicket, error) {
	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("Expo push API returned non-OK status",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(respBody)))
		return nil, fmt.Errorf("expo push API returned status %d", resp.StatusCode)
	}

	var expoResp ExpoResponse
	if err := json.Unmarshal(respBody, &expoResp); err != nil {
		// The push was accepted; only the ticket body is unreadable.
		s.logger.Warn("Failed to parse Expo response", zap.Error(err))
		return nil, nil
	}
	return expoResp.Data, nil
}
