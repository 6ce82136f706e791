package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const whatsappBodyLimit = 1000

// WhatsAppChannel sends plain-text alerts through the Meta Cloud API.
type WhatsAppChannel struct {
	token      string
	phoneID    string
	to         string
	baseURL    string
	httpClient *http.Client
}

func NewWhatsApp(token, phoneID, to string) *WhatsAppChannel {
	return &WhatsAppChannel{
		token:      token,
		phoneID:    phoneID,
		to:         to,
		baseURL:    "https://graph.facebook.com/v18.0",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

func (c *WhatsAppChannel) Send(ctx context.Context, a Alert) error {
	body := a.Text
	if len(body) > whatsappBodyLimit {
		body = body[:whatsappBodyLimit]
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                normalizeNumber(c.to),
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp send failed: %d %s", resp.StatusCode, string(msg))
	}
	return nil
}

// normalizeNumber strips formatting and prefixes the Indian country code
// onto bare 10-digit numbers, matching what the Cloud API expects.
func normalizeNumber(number string) string {
	to := strings.ReplaceAll(number, " ", "")
	to = strings.TrimPrefix(to, "+")
	if len(to) == 10 && !strings.HasPrefix(to, "91") {
		to = "91" + to
	}
	return to
}
