// Package whatsapp sends messages through the WhatsApp Cloud (Graph) API.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dinein-commerce/internal/common/config"
	"dinein-commerce/internal/common/errors"
	commonhttp "dinein-commerce/internal/common/http"
	"dinein-commerce/internal/common/logger"
)

// Cloud API limits on interactive messages.
const (
	MaxButtons         = 3
	MaxRows            = 10
	buttonTitleMax     = 20
	rowTitleMax        = 24
	rowDescriptionMax  = 72
	bodyMax            = 1024
	defaultGraphURL    = "https://graph.facebook.com/v19.0"
	flowMessageVersion = "3"
)

type Button struct {
	ID    string
	Title string
}

type Row struct {
	ID          string
	Title       string
	Description string
}

// List is an interactive list with a single section.
type List struct {
	Header string
	Body   string
	Button string
	Rows   []Row
}

// Flow opens a structured exchange flow at Screen with the given initial data.
type Flow struct {
	Name   string
	Screen string
	CTA    string
	Body   string
	Token  string
	Data   map[string]interface{}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Client is a thin Graph API client for one business phone number.
type Client struct {
	http          *commonhttp.Client
	baseURL       string
	phoneNumberID string
	token         string
	logger        logger.Logger
}

func NewClient(cfg config.WhatsAppConfig, log logger.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultGraphURL
	}
	timeout := config.GetDuration(cfg.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:          commonhttp.NewClient(timeout),
		baseURL:       base,
		phoneNumberID: cfg.PhoneNumberID,
		token:         cfg.AccessToken,
		logger:        log.WithFields(map[string]interface{}{"component": "whatsapp"}),
	}
}

// send posts one message and returns the provider message id.
func (c *Client) send(ctx context.Context, kind, to string, payload map[string]interface{}) (string, error) {
	payload["messaging_product"] = "whatsapp"
	payload["recipient_type"] = "individual"
	payload["to"] = strings.TrimPrefix(to, "+")

	var out sendResponse
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	headers := map[string]string{"Authorization": "Bearer " + c.token}
	if err := c.http.PostJSON(ctx, url, headers, payload, &out); err != nil {
		c.logger.Warn("whatsapp send failed", map[string]interface{}{
			"kind":  kind,
			"to":    logger.MaskPhone(to),
			"error": err.Error(),
		})
		return "", fmt.Errorf("whatsapp %s: %w", kind, err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", errors.NewNotificationSendFailedError("whatsapp", fmt.Errorf("no message id in response"))
	}
	c.logger.Debug("whatsapp message sent", map[string]interface{}{"kind": kind, "to": logger.MaskPhone(to), "id": out.Messages[0].ID})
	return out.Messages[0].ID, nil
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, "text", to, map[string]interface{}{
		"type": "text",
		"text": map[string]interface{}{"body": body, "preview_url": false},
	})
}

// SendTemplate sends an approved template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string, params []string) (string, error) {
	if language == "" {
		language = "en"
	}
	tpl := map[string]interface{}{
		"name":     name,
		"language": map[string]string{"code": language},
	}
	if len(params) > 0 {
		values := make([]map[string]string, len(params))
		for i, p := range params {
			values[i] = map[string]string{"type": "text", "text": p}
		}
		tpl["components"] = []map[string]interface{}{{"type": "body", "parameters": values}}
	}
	return c.send(ctx, "template", to, map[string]interface{}{"type": "template", "template": tpl})
}

// SendButtons sends up to three reply buttons; extra buttons are dropped.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	if len(buttons) == 0 {
		return c.SendText(ctx, to, body)
	}
	if len(buttons) > MaxButtons {
		c.logger.Warn("too many buttons, truncating", map[string]interface{}{"count": len(buttons)})
		buttons = buttons[:MaxButtons]
	}
	items := make([]map[string]interface{}, len(buttons))
	for i, b := range buttons {
		items[i] = map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": b.ID, "title": clip(b.Title, buttonTitleMax)},
		}
	}
	return c.send(ctx, "buttons", to, map[string]interface{}{
		"type": "interactive",
		"interactive": map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": clip(body, bodyMax)},
			"action": map[string]interface{}{"buttons": items},
		},
	})
}

// SendList sends an interactive list of at most ten rows.
func (c *Client) SendList(ctx context.Context, to string, l List) (string, error) {
	if len(l.Rows) == 0 {
		return c.SendText(ctx, to, l.Body)
	}
	rows := l.Rows
	if len(rows) > MaxRows {
		c.logger.Warn("too many list rows, truncating", map[string]interface{}{"count": len(rows)})
		rows = rows[:MaxRows]
	}
	items := make([]map[string]string, len(rows))
	for i, r := range rows {
		item := map[string]string{"id": r.ID, "title": clip(r.Title, rowTitleMax)}
		if r.Description != "" {
			item["description"] = clip(r.Description, rowDescriptionMax)
		}
		items[i] = item
	}
	button := l.Button
	if button == "" {
		button = "View"
	}
	interactive := map[string]interface{}{
		"type": "list",
		"body": map[string]string{"text": clip(l.Body, bodyMax)},
		"action": map[string]interface{}{
			"button":   clip(button, buttonTitleMax),
			"sections": []map[string]interface{}{{"title": clip(l.Header, rowTitleMax), "rows": items}},
		},
	}
	if l.Header != "" {
		interactive["header"] = map[string]string{"type": "text", "text": l.Header}
	}
	return c.send(ctx, "list", to, map[string]interface{}{"type": "interactive", "interactive": interactive})
}

// SendFlow sends a call-to-action that opens an exchange flow.
func (c *Client) SendFlow(ctx context.Context, to string, f Flow) (string, error) {
	payload := map[string]interface{}{"screen": f.Screen}
	if len(f.Data) > 0 {
		payload["data"] = f.Data
	}
	token := f.Token
	if token == "" {
		token = f.Name
	}
	body := f.Body
	if body == "" {
		body = f.CTA
	}
	return c.send(ctx, "flow", to, map[string]interface{}{
		"type": "interactive",
		"interactive": map[string]interface{}{
			"type": "flow",
			"body": map[string]string{"text": clip(body, bodyMax)},
			"action": map[string]interface{}{
				"name": "flow",
				"parameters": map[string]interface{}{
					"flow_message_version": flowMessageVersion,
					"flow_name":            f.Name,
					"flow_token":           token,
					"flow_cta":             clip(f.CTA, buttonTitleMax),
					"flow_action":          "navigate",
					"flow_action_payload":  payload,
				},
			},
		},
	})
}
