package webhook

import (
	"context"
	"fmt"

	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/common/metrics"
	"dinein-commerce/internal/dedupe"
	"dinein-commerce/internal/flows"
	"dinein-commerce/internal/whatsapp"
)

const dedupeScope = "wa_msg"

// Conversation answers one inbound message; *guard.Guard in production.
type Conversation interface {
	Handle(ctx context.Context, in flows.Input) ([]flows.Reply, error)
}

// Sender is satisfied by *whatsapp.Client.
type Sender interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendButtons(ctx context.Context, to, body string, buttons []whatsapp.Button) (string, error)
	SendList(ctx context.Context, to string, l whatsapp.List) (string, error)
	SendFlow(ctx context.Context, to string, f whatsapp.Flow) (string, error)
}

// Dispatcher runs each inbound message through the conversation once and sends the replies.
type Dispatcher struct {
	conversation Conversation
	sender       Sender
	guard        dedupe.Guard
	logger       logger.Logger
}

func NewDispatcher(conversation Conversation, sender Sender, guard dedupe.Guard, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		conversation: conversation,
		sender:       sender,
		guard:        guard,
		logger:       log.WithFields(map[string]interface{}{"component": "webhook"}),
	}
}

// Dispatch processes a message. A redelivered message id is acknowledged and skipped; a
// failure releases the claim so the provider's retry is processed again.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Inbound) error {
	log := d.logger.WithFields(map[string]interface{}{
		"messageId": msg.MessageID,
		"type":      msg.Type,
		"subject":   logger.MaskPhone(msg.Input.SubjectID),
	})

	var release dedupe.ReleaseFunc
	if d.guard != nil {
		rel, fresh, err := d.guard.Claim(ctx, dedupeScope, msg.MessageID)
		switch {
		case err != nil:
			log.Warn("message dedupe unavailable", map[string]interface{}{"error": err.Error()})
		case !fresh:
			log.Info("duplicate message skipped", nil)
			metrics.InboundMessages.WithLabelValues(msg.Type, "duplicate").Inc()
			return nil
		default:
			release = rel
		}
	}

	err := d.handle(ctx, msg)
	if err != nil {
		metrics.InboundMessages.WithLabelValues(msg.Type, "error").Inc()
		if release != nil {
			if rerr := release(ctx); rerr != nil {
				log.Warn("failed to release message claim", map[string]interface{}{"error": rerr.Error()})
			}
		}
		log.Error("inbound message failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	metrics.InboundMessages.WithLabelValues(msg.Type, "ok").Inc()
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, msg Inbound) error {
	replies, err := d.conversation.Handle(ctx, msg.Input)
	if err != nil {
		return err
	}
	for i, r := range replies {
		if err := d.send(ctx, msg.Input.SubjectID, r); err != nil {
			return fmt.Errorf("send reply %d of %d: %w", i+1, len(replies), err)
		}
	}
	return nil
}

// send maps one flow reply onto the matching WhatsApp message type.
func (d *Dispatcher) send(ctx context.Context, to string, r flows.Reply) error {
	var err error
	switch {
	case r.Flow != nil:
		_, err = d.sender.SendFlow(ctx, to, whatsapp.Flow{
			Name:   r.Flow.FlowID,
			Screen: r.Flow.Screen,
			CTA:    r.Flow.CTA,
			Body:   r.Text,
			Data:   r.Flow.Data,
		})
	case len(r.Rows) > 0:
		rows := make([]whatsapp.Row, len(r.Rows))
		for i, o := range r.Rows {
			rows[i] = whatsapp.Row{ID: o.ID, Title: o.Title, Description: o.Description}
		}
		_, err = d.sender.SendList(ctx, to, whatsapp.List{Header: r.ListTitle, Body: r.Text, Button: r.ListButton, Rows: rows})
	case len(r.Buttons) > 0:
		buttons := make([]whatsapp.Button, len(r.Buttons))
		for i, o := range r.Buttons {
			buttons[i] = whatsapp.Button{ID: o.ID, Title: o.Title}
		}
		_, err = d.sender.SendButtons(ctx, to, r.Text, buttons)
	case r.Text != "":
		_, err = d.sender.SendText(ctx, to, r.Text)
	}
	return err
}
