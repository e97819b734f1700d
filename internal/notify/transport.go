package notify

import (
	"context"
	stderrors "errors"
	"fmt"

	"dinein-commerce/internal/common/errors"
	commonhttp "dinein-commerce/internal/common/http"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"
)

// WhatsAppSender is satisfied by *whatsapp.Client.
type WhatsAppSender interface {
	SendTemplate(ctx context.Context, to, name, language string, params []string) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
}

// SMSSender is satisfied by *aws.SNSClient.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// EmailSender is satisfied by *aws.SESClient.
type EmailSender interface {
	SendText(ctx context.Context, to, subject, body string) (string, error)
}

// Sender delivers one notification and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, n *models.Notification) (string, error)
}

// Transport routes a notification to the provider for its channel. When WhatsApp rejects a
// message outright and SMS is configured, the rendered text goes out by SMS instead.
type Transport struct {
	whatsapp WhatsAppSender
	sms      SMSSender
	email    EmailSender
	logger   logger.Logger
}

func NewTransport(wa WhatsAppSender, sms SMSSender, email EmailSender, log logger.Logger) *Transport {
	return &Transport{
		whatsapp: wa,
		sms:      sms,
		email:    email,
		logger:   log.WithFields(map[string]interface{}{"component": "notify_transport"}),
	}
}

func (t *Transport) Send(ctx context.Context, n *models.Notification) (string, error) {
	switch n.Channel {
	case models.ChannelTemplate, models.ChannelFreeform, "":
		id, err := t.sendWhatsApp(ctx, n)
		if err == nil || t.sms == nil || retryable(err) {
			return id, err
		}
		t.logger.Warn("whatsapp rejected message, falling back to sms", map[string]interface{}{
			"id":    n.ID,
			"to":    logger.MaskPhone(n.ToAddress),
			"error": err.Error(),
		})
		return t.sendSMS(ctx, n)
	case models.ChannelSMS:
		return t.sendSMS(ctx, n)
	case models.ChannelEmail:
		if t.email == nil {
			return "", errors.NewNotificationSendFailedError(string(n.Channel), stderrors.New("email channel is not configured"))
		}
		subject := n.Payload.Subject
		if subject == "" {
			subject = n.Type
		}
		return t.email.SendText(ctx, n.ToAddress, subject, RenderText(n.Payload))
	}
	return "", errors.NewNotificationSendFailedError(string(n.Channel), fmt.Errorf("unknown channel %q", n.Channel))
}

func (t *Transport) sendWhatsApp(ctx context.Context, n *models.Notification) (string, error) {
	if t.whatsapp == nil {
		return "", errors.NewNotificationSendFailedError("whatsapp", stderrors.New("whatsapp channel is not configured"))
	}
	if tpl := n.Payload.Template; tpl != nil {
		return t.whatsapp.SendTemplate(ctx, n.ToAddress, tpl.Name, tpl.Language, tpl.Parameters)
	}
	return t.whatsapp.SendText(ctx, n.ToAddress, n.Payload.Text)
}

func (t *Transport) sendSMS(ctx context.Context, n *models.Notification) (string, error) {
	if t.sms == nil {
		return "", errors.NewNotificationSendFailedError("sms", stderrors.New("sms channel is not configured"))
	}
	return t.sms.SendSMS(ctx, n.ToAddress, RenderText(n.Payload))
}

func retryable(err error) bool {
	var se *commonhttp.StatusError
	if stderrors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
