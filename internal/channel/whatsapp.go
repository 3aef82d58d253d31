package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/config"
)

const whatsappRawBodyLimit = 1024

// WhatsAppChannel delivers messages through a Graph-API style phone-messaging
// provider.
type WhatsAppChannel struct {
	*health

	cfg    config.WhatsAppConfig
	client *http.Client
	logger *slog.Logger
}

// NewWhatsApp constructs the channel; call Initialize before sending.
func NewWhatsApp(cfg config.WhatsAppConfig, logger *slog.Logger) *WhatsAppChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WhatsAppChannel{
		health: newHealth("whatsapp"),
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Initialize checks credentials. Missing credentials disable the channel;
// the service still starts and sends fail fast with a descriptive error.
func (c *WhatsAppChannel) Initialize(ctx context.Context) error {
	if c.cfg.AccessToken == "" || c.cfg.PhoneNumberID == "" {
		c.setState(false, false)
		c.logger.Warn("whatsapp channel disabled: missing credentials")
		return nil
	}
	c.setState(true, true)
	c.logger.Info("whatsapp channel initialized",
		slog.String("phone_number_id", c.cfg.PhoneNumberID))
	return nil
}

func (c *WhatsAppChannel) Status() Status { return c.snapshot() }

// Send posts one message to the provider. Template selection via
// metadata["templateName"] and recipient normalization stay private to this
// channel.
func (c *WhatsAppChannel) Send(ctx context.Context, msg *Message) *SendResult {
	if !c.isEnabled() {
		return c.notConfigured("whatsapp credentials missing")
	}

	payload := c.buildPayload(msg)
	body, err := json.Marshal(payload)
	if err != nil {
		return c.recordResult(&SendResult{Err: fmt.Errorf("marshal payload: %w", err)})
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.cfg.APIBaseURL, "/"), c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.recordResult(&SendResult{Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return c.recordResult(&SendResult{Err: fmt.Errorf("whatsapp request: %w", err)})
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, whatsappRawBodyLimit))

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &parsed)

	providerResp := map[string]interface{}{
		"status_code": resp.StatusCode,
		"body":        string(raw),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := resp.Status
		if parsed.Error != nil && parsed.Error.Message != "" {
			detail = parsed.Error.Message
		}
		return c.recordResult(&SendResult{
			ProviderResponse: providerResp,
			Err:              fmt.Errorf("whatsapp provider rejected message: %s", detail),
		})
	}

	providerID := ""
	if len(parsed.Messages) > 0 {
		providerID = parsed.Messages[0].ID
	}
	return c.recordResult(&SendResult{
		Success:          true,
		MessageID:        providerID,
		ProviderResponse: providerResp,
	})
}

// buildPayload shapes the outbound body: a structured template when
// metadata["templateName"] is set, plain text otherwise.
func (c *WhatsAppChannel) buildPayload(msg *Message) map[string]interface{} {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                normalizePhone(msg.Recipient),
	}

	templateName, _ := msg.Metadata["templateName"].(string)
	if templateName == "" {
		payload["type"] = "text"
		payload["text"] = map[string]interface{}{"body": msg.Body}
		return payload
	}

	language, _ := msg.Metadata["templateLanguage"].(string)
	if language == "" {
		language = "en"
	}
	template := map[string]interface{}{
		"name":     templateName,
		"language": map[string]interface{}{"code": language},
	}
	if params, ok := msg.Metadata["templateParams"].([]interface{}); ok && len(params) > 0 {
		parameters := make([]map[string]interface{}, 0, len(params))
		for _, p := range params {
			parameters = append(parameters, map[string]interface{}{
				"type": "text",
				"text": fmt.Sprint(p),
			})
		}
		template["components"] = []map[string]interface{}{
			{"type": "body", "parameters": parameters},
		}
	}
	payload["type"] = "template"
	payload["template"] = template
	return payload
}

// normalizePhone strips every non-digit character from the recipient.
func normalizePhone(recipient string) string {
	var b strings.Builder
	for _, r := range recipient {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
