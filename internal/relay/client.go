// Package relay talks to the external WhatsApp relay service.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/siriusgroup/wa-notify/internal/model"
)

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendRequest struct {
	Phone         string          `json:"phone"`
	Message       string          `json:"message"`
	RecipientData model.Recipient `json:"recipient_data"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

type healthResponse struct {
	OK          bool `json:"ok"`
	ClientReady bool `json:"clientReady"`
}

// Send delivers one message through the relay and returns the relay's
// message id. Any non-200 status or decode problem is an error; the caller
// maps it to a per-recipient failure.
func (c *Client) Send(ctx context.Context, phone, message string, recipient model.Recipient) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		Phone:         phone,
		Message:       message,
		RecipientData: recipient,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/wa/send", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("missing message_id in response body=%q", string(body))
	}

	return sr.MessageID, nil
}

// Health probes the relay. Healthy means the relay answered 200 with both
// ok and clientReady set.
func (c *Client) Health(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/wa/health", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var hr healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return false, fmt.Errorf("failed to decode json: %w", err)
	}

	return hr.OK && hr.ClientReady, nil
}
