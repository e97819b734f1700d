package notify

import (
	"fmt"
	"strings"

	"dinein-commerce/internal/models"
)

const templateLanguage = "en"

func template(to, typ string, params ...string) *models.Notification {
	return &models.Notification{
		ToAddress: to,
		Type:      typ,
		Channel:   models.ChannelTemplate,
		Payload: models.Envelope{Template: &models.TemplatePayload{
			Name:       typ,
			Language:   templateLanguage,
			Parameters: params,
		}},
	}
}

// OrderCreatedVendor tells a venue contact that an order arrived.
func OrderCreatedVendor(to string, o *models.Order) *models.Notification {
	table := o.TableLabel
	if table == "" {
		table = "Counter"
	}
	n := template(to, models.TypeOrderCreatedVendor, o.Code, table, models.FormatMoney(o.TotalMinor, o.Currency))
	n.VenueID, n.OrderID = o.VenueID, o.ID
	return n
}

// OrderStatusCustomer tells the customer their order moved to status. Only paid, served and
// cancelled have a customer message; other statuses return nil.
func OrderStatusCustomer(o *models.Order, status models.OrderStatus, reason string) *models.Notification {
	var n *models.Notification
	switch status {
	case models.OrderPaid:
		n = template(o.SubjectID, models.TypeOrderPaidCustomer, o.Code)
	case models.OrderServed:
		n = template(o.SubjectID, models.TypeOrderServedCustomer, o.Code)
	case models.OrderCancelled:
		if reason == "" {
			reason = "Order cancelled"
		}
		n = template(o.SubjectID, models.TypeOrderCancelledCustomer, o.Code, reason)
	default:
		return nil
	}
	n.VenueID, n.OrderID = o.VenueID, o.ID
	return n
}

// CustomerPaidVendor relays the customer's "I paid" signal to the venue.
func CustomerPaidVendor(to string, o *models.Order) *models.Notification {
	n := template(to, models.TypeCustomerPaidVendor, o.Code, models.FormatMoney(o.TotalMinor, o.Currency))
	n.VenueID, n.OrderID = o.VenueID, o.ID
	return n
}

// StaffInvite is sent as session text; the code is only ever in this payload.
func StaffInvite(to, venueID, venueName, code string, ttlHours int) *models.Notification {
	return &models.Notification{
		ToAddress: to,
		Type:      models.TypeStaffInvite,
		Channel:   models.ChannelFreeform,
		VenueID:   venueID,
		Payload: models.Envelope{
			Text: fmt.Sprintf("%s invite: reply with CODE %s within %dh to activate your staff access.", venueName, code, ttlHours),
		},
	}
}

// OrderDigestEmail summarises a new order for the venue's order inbox.
func OrderDigestEmail(to string, o *models.Order, items []models.OrderItem) *models.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s", o.Code)
	if o.TableLabel != "" {
		fmt.Fprintf(&b, " (table %s)", o.TableLabel)
	}
	b.WriteString("\n\n")
	for _, it := range items {
		fmt.Fprintf(&b, "%dx %s  %s\n", it.Qty, it.NameSnapshot, models.FormatMoney(it.LineTotalMinor, o.Currency))
	}
	fmt.Fprintf(&b, "\nSubtotal: %s\nService: %s\nTotal: %s\n",
		models.FormatMoney(o.SubtotalMinor, o.Currency),
		models.FormatMoney(o.ServiceChargeMinor, o.Currency),
		models.FormatMoney(o.TotalMinor, o.Currency))
	if o.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s\n", o.Note)
	}
	return &models.Notification{
		ToAddress: to,
		Type:      models.TypeOrderDigestEmail,
		Channel:   models.ChannelEmail,
		VenueID:   o.VenueID,
		OrderID:   o.ID,
		Payload: models.Envelope{
			Subject: "New order " + o.Code,
			Text:    b.String(),
		},
	}
}

// RenderText flattens an envelope for channels that cannot carry templates (SMS, email).
func RenderText(env models.Envelope) string {
	if env.Text != "" {
		return env.Text
	}
	if env.Template == nil {
		return ""
	}
	p := env.Template.Parameters
	arg := func(i int) string {
		if i < len(p) {
			return p[i]
		}
		return ""
	}
	switch env.Template.Name {
	case models.TypeOrderCreatedVendor:
		return fmt.Sprintf("New order %s at %s. Total %s.", arg(0), arg(1), arg(2))
	case models.TypeOrderPaidCustomer:
		return fmt.Sprintf("Payment for order %s is confirmed.", arg(0))
	case models.TypeOrderServedCustomer:
		return fmt.Sprintf("Order %s has been served. Enjoy!", arg(0))
	case models.TypeOrderCancelledCustomer:
		return fmt.Sprintf("Order %s was cancelled: %s", arg(0), arg(1))
	case models.TypeCustomerPaidVendor:
		return fmt.Sprintf("Customer says order %s (%s) is paid. Please confirm.", arg(0), arg(1))
	}
	return strings.TrimSpace(env.Template.Name + " " + strings.Join(p, " "))
}
