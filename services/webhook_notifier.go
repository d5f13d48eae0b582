package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"league-sync-service/logger"
)

// WebhookNotifier 告警通知器：死信与冲突通过 webhook 推送给运营
type WebhookNotifier struct {
	webhookURL string
	client     *http.Client
	enabled    bool
}

// NewWebhookNotifier 创建通知器，URL 为空则禁用
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	enabled := webhookURL != ""
	if enabled {
		logger.Printf("[WebhookNotifier] Initialized with webhook")
	} else {
		logger.Printf("[WebhookNotifier] Disabled (no webhook URL)")
	}

	return &WebhookNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		enabled:    enabled,
	}
}

// NotifyDeadLetter 死信告警
func (n *WebhookNotifier) NotifyDeadLetter(messageID, category string, attempts int, lastErr string) error {
	text := fmt.Sprintf("🚨 Dead letter\n\nMessage: %s\nCategory: %s\nAttempts: %d",
		messageID, category, attempts)
	if lastErr != "" {
		text += fmt.Sprintf("\nLast error: %s", lastErr)
	}
	return n.send(map[string]interface{}{
		"event":      "dead_letter",
		"message_id": messageID,
		"category":   category,
		"attempts":   attempts,
		"last_error": lastErr,
		"text":       text,
	})
}

// NotifyConflict 冲突告警
func (n *WebhookNotifier) NotifyConflict(matchID int64, reason string, fields int) error {
	return n.send(map[string]interface{}{
		"event":    "conflict",
		"match_id": matchID,
		"reason":   reason,
		"fields":   fields,
		"text": fmt.Sprintf("⚠️ Conflict recorded\n\nMatch: %d\nReason: %s\nFields: %d",
			matchID, reason, fields),
	})
}

// NotifyServiceStart 服务启动通知
func (n *WebhookNotifier) NotifyServiceStart(environment string, workers int) error {
	return n.send(map[string]interface{}{
		"event": "service_start",
		"text": fmt.Sprintf("🟢 League sync service started\n\nEnvironment: %s\nWorkers: %d",
			environment, workers),
	})
}

func (n *WebhookNotifier) send(payload map[string]interface{}) error {
	if !n.enabled {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
