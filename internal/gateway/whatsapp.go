package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/acme/whatsapp-campaign/internal/config"
)

// WhatsAppBridge is the HTTP implementation of Provider against the bridge
// service. JSON for simple kinds, multipart for media uploads.
type WhatsAppBridge struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
}

// NewWhatsAppBridge constructs the bridge client.
func NewWhatsAppBridge(cfg config.GatewayConfig) *WhatsAppBridge {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &WhatsAppBridge{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type bridgeResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type bridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *bridgeError) Error() string {
	return fmt.Sprintf("bridge error: %s (code %d)", e.Message, e.Code)
}

// SendText delivers a plain text message.
func (b *WhatsAppBridge) SendText(ctx context.Context, to, body string) (Receipt, error) {
	return b.postJSON(ctx, "/send/message", map[string]any{
		"phone":   to,
		"message": body,
	})
}

// SendImage uploads and delivers an image with an optional caption.
func (b *WhatsAppBridge) SendImage(ctx context.Context, to string, media Media) (Receipt, error) {
	return b.postMedia(ctx, "/send/image", "image", to, media, nil)
}

// SendVideo uploads and delivers a video with an optional caption.
func (b *WhatsAppBridge) SendVideo(ctx context.Context, to string, media Media) (Receipt, error) {
	return b.postMedia(ctx, "/send/video", "video", to, media, nil)
}

// SendAudio uploads and delivers an audio clip.
func (b *WhatsAppBridge) SendAudio(ctx context.Context, to string, media Media) (Receipt, error) {
	return b.postMedia(ctx, "/send/audio", "audio", to, media, nil)
}

// SendFile uploads and delivers a document.
func (b *WhatsAppBridge) SendFile(ctx context.Context, to string, media Media) (Receipt, error) {
	return b.postMedia(ctx, "/send/file", "file", to, media, nil)
}

// SendLink delivers a link with preview and optional caption.
func (b *WhatsAppBridge) SendLink(ctx context.Context, to, url, caption string) (Receipt, error) {
	return b.postJSON(ctx, "/send/link", map[string]any{
		"phone":   to,
		"link":    url,
		"caption": caption,
	})
}

// SendLocation delivers geo coordinates.
func (b *WhatsAppBridge) SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (Receipt, error) {
	return b.postJSON(ctx, "/send/location", map[string]any{
		"phone":     to,
		"latitude":  latitude,
		"longitude": longitude,
		"name":      name,
	})
}

// SendContact delivers a contact card.
func (b *WhatsAppBridge) SendContact(ctx context.Context, to, contactName, contactPhone string) (Receipt, error) {
	return b.postJSON(ctx, "/send/contact", map[string]any{
		"phone":         to,
		"contact_name":  contactName,
		"contact_phone": contactPhone,
	})
}

// SendPoll delivers a poll with its options.
func (b *WhatsAppBridge) SendPoll(ctx context.Context, to, question string, options []string, maxAnswers int) (Receipt, error) {
	if maxAnswers <= 0 {
		maxAnswers = 1
	}
	return b.postJSON(ctx, "/send/poll", map[string]any{
		"phone":       to,
		"question":    question,
		"options":     options,
		"max_answers": maxAnswers,
	})
}

// SessionConnected checks whether the session is paired and online.
func (b *WhatsAppBridge) SessionConnected(ctx context.Context, sessionID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/sessions/"+sessionID+"/status", nil)
	if err != nil {
		return false, fmt.Errorf("gateway: build session request: %w", err)
	}
	b.authorize(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("gateway: session status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("gateway: session status returned %d", resp.StatusCode)
	}

	var payload struct {
		Connected bool `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("gateway: decode session status: %w", err)
	}
	return payload.Connected, nil
}

func (b *WhatsAppBridge) postJSON(ctx context.Context, path string, payload map[string]any) (Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	return b.do(req)
}

func (b *WhatsAppBridge) postMedia(ctx context.Context, path, field, to string, media Media, extra map[string]string) (Receipt, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("phone", to); err != nil {
		return Receipt{}, fmt.Errorf("gateway: write phone field: %w", err)
	}
	if media.Caption != "" {
		if err := writer.WriteField("caption", media.Caption); err != nil {
			return Receipt{}, fmt.Errorf("gateway: write caption field: %w", err)
		}
	}
	for key, value := range extra {
		if err := writer.WriteField(key, value); err != nil {
			return Receipt{}, fmt.Errorf("gateway: write %s field: %w", key, err)
		}
	}

	part, err := writer.CreateFormFile(field, media.Filename)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: create form file: %w", err)
	}
	if _, err := part.Write(media.Content); err != nil {
		return Receipt{}, fmt.Errorf("gateway: write media content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Receipt{}, fmt.Errorf("gateway: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+path, &buf)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.ContentLength = int64(buf.Len())
	b.authorize(req)

	return b.do(req)
}

func (b *WhatsAppBridge) do(req *http.Request) (Receipt, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("gateway: read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var bridgeErr bridgeError
		if err := json.Unmarshal(respBody, &bridgeErr); err != nil || bridgeErr.Message == "" {
			return Receipt{}, fmt.Errorf("gateway: bridge returned %s: %s", strconv.Itoa(resp.StatusCode), string(respBody))
		}
		return Receipt{}, &bridgeErr
	}

	var parsed bridgeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Receipt{}, fmt.Errorf("gateway: decode response: %w", err)
	}

	return Receipt{ProviderMessageID: parsed.MessageID}, nil
}

func (b *WhatsAppBridge) authorize(req *http.Request) {
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
}
