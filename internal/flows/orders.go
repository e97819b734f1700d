package flows

import (
	"context"
	"fmt"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/state"
)

const (
	cmdMarkPaid   = "mark_paid"
	cmdMarkServed = "mark_served"
	cmdCancel     = "cancel_order"
)

// vendorActions maps order detail buttons to the status they request.
var vendorActions = map[string]models.OrderStatus{
	cmdMarkPaid:   models.OrderPaid,
	cmdMarkServed: models.OrderServed,
	cmdCancel:     models.OrderCancelled,
}

func ordersData(st *models.ConversationState) models.OrdersData {
	if d, ok := st.Data.(models.OrdersData); ok {
		return d
	}
	return models.OrdersData{}
}

func (e *Engine) ordersSteps() []Step {
	return []Step{
		{Key: models.StateOrdersList, Prompt: e.promptOrdersList, Handle: e.handleOrdersList},
		{Key: models.StateOrdersDetail, Prompt: e.promptOrderDetail, Handle: e.handleOrderDetail},
	}
}

func (e *Engine) startOrders(ctx context.Context, st *models.ConversationState) (*Result, error) {
	venueID, err := e.vendorVenue(ctx, st)
	if err != nil {
		return nil, err
	}
	return moveTo(state.Advance(st, models.StateOrdersList, models.OrdersData{VenueID: venueID})), nil
}

func (e *Engine) promptOrdersList(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	d := ordersData(st)
	orders, more, err := e.orders.ListVenueOrders(ctx, d.VenueID, models.OrderStatus(d.Status), d.Offset, PageSize)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 && d.Offset == 0 {
		return []Reply{buttons("📭 No open orders right now.", Option{ID: IDHome, Title: "Home"})}, nil
	}
	rows := make([]Option, 0, len(orders)+1)
	for _, o := range orders {
		desc := fmt.Sprintf("%s · %s", o.Status, models.FormatMoney(o.TotalMinor, o.Currency))
		if o.TableLabel != "" {
			desc += " · table " + o.TableLabel
		}
		rows = append(rows, Option{
			ID:          rowID("order", o.ID),
			Title:       "#" + o.Code,
			Description: truncate(desc+" · "+o.CreatedAt.Format("15:04"), 72),
		})
	}
	return []Reply{list("Orders", "🧾 Open orders, newest first.", pageRows(rows, more))}, nil
}

func (e *Engine) handleOrdersList(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := ordersData(st)
	cmd := in.Command()
	if cmd == IDMore {
		d.Offset += PageSize
		return moveTo(same(st, d)), nil
	}
	id, ok := parseRow(cmd, "order")
	if !ok {
		return stay(), nil
	}
	d.OrderID = id
	return moveTo(state.Advance(st, models.StateOrdersDetail, d)), nil
}

// venueOrder loads the order on screen and checks it belongs to the vendor's venue.
func (e *Engine) venueOrder(ctx context.Context, d models.OrdersData) (*models.Order, error) {
	o, err := e.orders.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	if o.VenueID != d.VenueID {
		return nil, errors.NewNotFoundError("order", d.OrderID)
	}
	return o, nil
}

func (e *Engine) promptOrderDetail(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	o, err := e.venueOrder(ctx, ordersData(st))
	if err != nil {
		return nil, err
	}
	items, err := e.orders.OrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧾 *Order #%s* (%s)\n", o.Code, o.Status)
	if o.TableLabel != "" {
		fmt.Fprintf(&b, "Table: %s\n", o.TableLabel)
	}
	for _, it := range items {
		fmt.Fprintf(&b, "\n%d × %s  %s", it.Qty, it.NameSnapshot, models.FormatMoney(it.LineTotalMinor, o.Currency))
		for _, m := range it.ModifiersSnapshot {
			fmt.Fprintf(&b, "\n   + %s: %s", m.ModifierName, m.OptionName)
		}
	}
	if o.ServiceChargeMinor > 0 {
		fmt.Fprintf(&b, "\n\nService: %s", models.FormatMoney(o.ServiceChargeMinor, o.Currency))
	}
	fmt.Fprintf(&b, "\n*Total: %s*", models.FormatMoney(o.TotalMinor, o.Currency))
	if o.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s", o.Note)
	}

	var opts []Option
	switch o.Status {
	case models.OrderPending:
		opts = append(opts, Option{ID: cmdMarkPaid, Title: "Mark paid"}, Option{ID: cmdCancel, Title: "Cancel order"})
	case models.OrderPaid:
		opts = append(opts, Option{ID: cmdMarkServed, Title: "Mark served"}, Option{ID: cmdCancel, Title: "Cancel order"})
	}
	opts = append(opts, Option{ID: IDBack, Title: "← Back"})
	return []Reply{buttons(b.String(), opts...)}, nil
}

func (e *Engine) handleOrderDetail(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	to, ok := vendorActions[in.Command()]
	if !ok {
		return stay(), nil
	}
	d := ordersData(st)
	if _, err := e.venueOrder(ctx, d); err != nil {
		return nil, err
	}
	o, err := e.orders.UpdateOrderStatus(ctx, d.OrderID, to, models.ActorVendor, "")
	if err != nil {
		return nil, err
	}
	return stay(text(fmt.Sprintf("✅ Order #%s is now %s.", o.Code, o.Status))), nil
}
