// Package webhook turns WhatsApp Cloud API webhook deliveries into flow inputs and sends the
// replies back.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"dinein-commerce/internal/common/validation"
	"dinein-commerce/internal/flows"
	"dinein-commerce/internal/venues"
)

// Payload is the subset of the webhook body this service reads.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Messages         []Message `json:"messages"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Button      *QuickReply  `json:"button,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Document    *Media       `json:"document,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// QuickReply is a template quick-reply button press.
type QuickReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// Inbound is one parsed message ready for the conversation layer.
type Inbound struct {
	MessageID string
	Type      string
	Input     flows.Input
}

// Parse decodes a webhook body. Messages with no usable content (reactions, status-only
// deliveries, unsupported types) are skipped.
func Parse(body []byte) ([]Inbound, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	var out []Inbound
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			for _, m := range c.Value.Messages {
				if in, ok := toInput(m); ok {
					out = append(out, Inbound{MessageID: m.ID, Type: m.Type, Input: in})
				}
			}
		}
	}
	return out, nil
}

func toInput(m Message) (flows.Input, bool) {
	subject, ok := validation.NormalizePhone(m.From, venues.DefaultCountryCode)
	if !ok || m.ID == "" {
		return flows.Input{}, false
	}
	in := flows.Input{SubjectID: subject}
	switch m.Type {
	case "text":
		if m.Text == nil {
			return in, false
		}
		in.Text = m.Text.Body
	case "interactive":
		if m.Interactive == nil {
			return in, false
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			in.ReplyID, in.Text = m.Interactive.ButtonReply.ID, m.Interactive.ButtonReply.Title
		case m.Interactive.ListReply != nil:
			in.ReplyID, in.Text = m.Interactive.ListReply.ID, m.Interactive.ListReply.Title
		default:
			return in, false
		}
	case "button":
		if m.Button == nil {
			return in, false
		}
		in.ReplyID, in.Text = m.Button.Payload, m.Button.Text
	case "location":
		if m.Location == nil {
			return in, false
		}
		in.Location = &flows.Location{
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
			Name:      m.Location.Name,
			Address:   m.Location.Address,
		}
	case "image", "document":
		media := m.Image
		if m.Type == "document" {
			media = m.Document
		}
		if media == nil {
			return in, false
		}
		in.MediaID, in.MimeType, in.Text = media.ID, media.MimeType, media.Caption
	default:
		return in, false
	}
	return in, true
}

// VerifySignature checks the X-Hub-Signature-256 header against the app secret. An empty
// secret disables the check.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	given, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Handshake answers the subscription check: it returns the challenge to echo when mode is
// "subscribe" and the token matches.
func Handshake(verifyToken, mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" || !hmac.Equal([]byte(token), []byte(verifyToken)) {
		return "", false
	}
	return challenge, true
}
