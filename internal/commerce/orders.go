package commerce

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"dinein-commerce/internal/common/database"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/metrics"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/notify"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newOrderCode() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// PlaceOptions are the customer's extras at checkout.
type PlaceOptions struct {
	TableLabel string
	Note       string
}

// PlacedOrder is the result of checkout. Payment is nil when the venue has no payment target.
type PlacedOrder struct {
	Order   *models.Order
	Items   []models.OrderItem
	Payment *models.PaymentDescriptor
}

// PlaceOrder locks the cart, reprices it and copies its lines into an immutable order with a
// "created" event. Vendor notifications are queued after the transaction commits.
func (e *Engine) PlaceOrder(ctx context.Context, cartID, subjectID string, opts PlaceOptions) (*PlacedOrder, error) {
	cart, err := e.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.SubjectID != subjectID {
		return nil, errors.NewNotFoundError("cart", cartID)
	}
	settings, err := e.venues.Settings(ctx, cart.VenueID)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:         uuid.NewString(),
		Code:       newOrderCode(),
		VenueID:    cart.VenueID,
		CartID:     cartID,
		SubjectID:  subjectID,
		Currency:   settings.Currency,
		Status:     models.OrderPending,
		TableLabel: strings.TrimSpace(opts.TableLabel),
		Note:       strings.TrimSpace(opts.Note),
		CreatedAt:  e.clock.Now().UTC(),
	}
	var items []models.OrderItem

	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if _, err := lockOpenCart(ctx, tx, cartID); err != nil {
			return err
		}
		totals, err := repriceTx(ctx, tx, cartID, settings.ServiceChargePct)
		if err != nil {
			return err
		}
		lines, err := cartLines(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return errors.NewValidationError("Your cart is empty.")
		}
		order.SubtotalMinor, order.ServiceChargeMinor, order.TotalMinor = totals.SubtotalMinor, totals.ServiceChargeMinor, totals.TotalMinor

		if _, err := tx.ExecContext(ctx, `UPDATE carts SET status = 'locked', updated_at = now() WHERE id = $1`, cartID); err != nil {
			return errors.WrapQuery("lock_cart", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, code, venue_id, cart_id, subject_id, subtotal_minor, service_charge_minor,
				total_minor, currency, status, table_label, note, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $11, $12)`,
			order.ID, order.Code, order.VenueID, cartID, subjectID, order.SubtotalMinor, order.ServiceChargeMinor,
			order.TotalMinor, order.Currency, order.TableLabel, order.Note, order.CreatedAt); err != nil {
			return errors.WrapQuery("insert_order", err)
		}
		for _, l := range lines {
			oi := models.OrderItem{
				ID:                uuid.NewString(),
				OrderID:           order.ID,
				ItemID:            l.ItemID,
				NameSnapshot:      l.NameSnapshot,
				UnitPriceMinor:    l.UnitPriceMinor,
				Qty:               l.Qty,
				ModifiersSnapshot: l.ModifiersSnapshot,
				LineTotalMinor:    l.LineTotalMinor,
			}
			mods, _ := json.Marshal(oi.ModifiersSnapshot)
			if oi.ModifiersSnapshot == nil {
				mods = []byte("[]")
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, item_id, name_snapshot, unit_price_minor, qty, modifiers_snapshot, line_total_minor)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				oi.ID, oi.OrderID, oi.ItemID, oi.NameSnapshot, oi.UnitPriceMinor, oi.Qty, mods, oi.LineTotalMinor); err != nil {
				return errors.WrapQuery("insert_order_item", err)
			}
			items = append(items, oi)
		}
		return insertEvent(ctx, tx, order.ID, models.EventCreated, models.ActorCustomer, "")
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues("none", string(models.OrderPending)).Inc()
	e.logger.Info("order placed", map[string]interface{}{
		"orderId": order.ID,
		"code":    order.Code,
		"venueId": order.VenueID,
		"total":   order.TotalMinor,
	})

	placed := &PlacedOrder{Order: order, Items: items}
	venue, err := e.venues.GetVenue(ctx, order.VenueID)
	if err != nil {
		e.logger.Warn("venue lookup after order failed", map[string]interface{}{"orderId": order.ID, "error": err.Error()})
	} else {
		placed.Payment = BuildPayment(venue.MomoCode, order.TotalMinor)
	}

	e.notifyVendor(ctx, order, func(to string) *models.Notification { return notify.OrderCreatedVendor(to, order) })
	if settings.OrderEmail != "" {
		e.enqueue(ctx, notify.OrderDigestEmail(settings.OrderEmail, order, items))
	}
	e.publish(ctx, "order-placed", order, nil)
	return placed, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, orderID, eventType string, actor models.ActorType, note string) error {
	var n interface{}
	if note != "" {
		n = note
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_events (order_id, event_type, actor_type, note) VALUES ($1, $2, $3, $4)`,
		orderID, eventType, string(actor), n); err != nil {
		return errors.WrapQuery("insert_order_event", err)
	}
	return nil
}

const orderColumns = `id, code, venue_id, cart_id, subject_id, subtotal_minor, service_charge_minor, total_minor,
	currency, status, COALESCE(table_label, ''), COALESCE(note, ''), created_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	var (
		o      models.Order
		cartID sql.NullString
		status string
	)
	if err := row.Scan(&o.ID, &o.Code, &o.VenueID, &cartID, &o.SubjectID, &o.SubtotalMinor, &o.ServiceChargeMinor,
		&o.TotalMinor, &o.Currency, &status, &o.TableLabel, &o.Note, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.CartID = cartID.String
	o.Status = models.OrderStatus(status)
	return &o, nil
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, errors.NewNotFoundError("order", orderID)
	}
	o, err := scanOrder(e.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("order", orderID)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_order", err)
	}
	return o, nil
}

func (e *Engine) OrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, name_snapshot, unit_price_minor, qty, modifiers_snapshot, line_total_minor
		FROM order_items WHERE order_id = $1 ORDER BY name_snapshot, id`, orderID)
	if err != nil {
		return nil, errors.WrapQuery("order_items", err)
	}
	defer rows.Close()

	var out []models.OrderItem
	for rows.Next() {
		var (
			oi   models.OrderItem
			mods []byte
		)
		if err := rows.Scan(&oi.ID, &oi.OrderID, &oi.ItemID, &oi.NameSnapshot, &oi.UnitPriceMinor, &oi.Qty, &mods, &oi.LineTotalMinor); err != nil {
			return nil, errors.WrapQuery("order_items", err)
		}
		if len(mods) > 0 {
			_ = json.Unmarshal(mods, &oi.ModifiersSnapshot)
		}
		out = append(out, oi)
	}
	return out, rows.Err()
}

// UpdateOrderStatus moves an order along pending→paid→served or to cancelled, appending an
// event and queueing the customer's notification. Illegal moves leave the order untouched.
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, actor models.ActorType, note string) (*models.Order, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, errors.NewNotFoundError("order", orderID)
	}

	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		o, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if stderrors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("order", orderID)
		}
		if err != nil {
			return errors.WrapQuery("lock_order", err)
		}
		from = o.Status
		if !models.CanTransition(from, to) {
			return errors.NewInvalidTransitionError(string(from), string(to))
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, string(to)); err != nil {
			return errors.WrapQuery("update_order_status", err)
		}
		if err := insertEvent(ctx, tx, orderID, string(to), actor, note); err != nil {
			return err
		}
		o.Status = to
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	e.logger.Info("order status changed", map[string]interface{}{
		"orderId": orderID,
		"from":    from,
		"to":      to,
		"actor":   actor,
	})

	if n := notify.OrderStatusCustomer(order, to, note); n != nil {
		e.enqueue(ctx, n)
	}
	e.publish(ctx, "order-status-changed", order, map[string]interface{}{"from": string(from)})
	return order, nil
}

// CustomerPaidSignal records that the customer says they paid and tells the venue. The order
// status does not change; only the venue can confirm payment.
func (e *Engine) CustomerPaidSignal(ctx context.Context, orderID, subjectID string) (*models.Order, error) {
	order, err := e.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if subjectID != "" && order.SubjectID != subjectID {
		return nil, errors.NewNotFoundError("order", orderID)
	}
	if order.Status == models.OrderCancelled {
		return nil, errors.NewStateConflictError("order is cancelled")
	}
	if _, err := e.db.ExecContext(ctx,
		`INSERT INTO order_events (order_id, event_type, actor_type) VALUES ($1, $2, $3)`,
		orderID, models.EventCustomerPaidSignal, string(models.ActorCustomer)); err != nil {
		return nil, errors.WrapQuery("insert_order_event", err)
	}
	e.notifyVendor(ctx, order, func(to string) *models.Notification { return notify.CustomerPaidVendor(to, order) })
	return order, nil
}

// Timeline lists an order's events oldest first.
func (e *Engine) Timeline(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT order_id, event_type, actor_type, COALESCE(note, ''), created_at
		FROM order_events WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, errors.WrapQuery("order_timeline", err)
	}
	defer rows.Close()

	var out []models.OrderEvent
	for rows.Next() {
		var (
			ev    models.OrderEvent
			actor string
		)
		if err := rows.Scan(&ev.OrderID, &ev.EventType, &actor, &ev.Note, &ev.CreatedAt); err != nil {
			return nil, errors.WrapQuery("order_timeline", err)
		}
		ev.ActorType = models.ActorType(actor)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// TimelineText renders one "event time" line per event.
func TimelineText(events []models.OrderEvent) string {
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = fmt.Sprintf("%s %s", ev.EventType, ev.CreatedAt.Format("2006-01-02 15:04"))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) queryOrders(ctx context.Context, op, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapQuery(op, err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.WrapQuery(op, err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListVenueOrders pages through a venue's orders, newest first. An empty status lists open
// orders (pending and paid).
func (e *Engine) ListVenueOrders(ctx context.Context, venueID string, status models.OrderStatus, offset, limit int) ([]models.Order, bool, error) {
	var (
		orders []models.Order
		err    error
	)
	if status == "" {
		orders, err = e.queryOrders(ctx, "list_venue_orders", `SELECT `+orderColumns+` FROM orders
			WHERE venue_id = $1 AND status IN ('pending', 'paid')
			ORDER BY created_at DESC OFFSET $2 LIMIT $3`, venueID, offset, limit+1)
	} else {
		orders, err = e.queryOrders(ctx, "list_venue_orders", `SELECT `+orderColumns+` FROM orders
			WHERE venue_id = $1 AND status = $4
			ORDER BY created_at DESC OFFSET $2 LIMIT $3`, venueID, offset, limit+1, string(status))
	}
	if err != nil {
		return nil, false, err
	}
	if len(orders) > limit {
		return orders[:limit], true, nil
	}
	return orders, false, nil
}

// ListCustomerOrders returns the subject's ten most recent orders that are not finished.
func (e *Engine) ListCustomerOrders(ctx context.Context, subjectID string) ([]models.Order, error) {
	return e.queryOrders(ctx, "list_customer_orders", `SELECT `+orderColumns+` FROM orders
		WHERE subject_id = $1 AND status NOT IN ('served', 'cancelled')
		ORDER BY created_at DESC LIMIT 10`, subjectID)
}

func (e *Engine) notifyVendor(ctx context.Context, order *models.Order, build func(to string) *models.Notification) {
	contacts, err := e.venues.OrderContacts(ctx, order.VenueID)
	if err != nil {
		e.logger.Warn("venue contacts lookup failed", map[string]interface{}{"orderId": order.ID, "error": err.Error()})
		return
	}
	if len(contacts) == 0 {
		e.logger.Warn("venue has no order contacts", map[string]interface{}{"venueId": order.VenueID})
		return
	}
	for _, to := range contacts {
		e.enqueue(ctx, build(to))
	}
}

// enqueue never fails the caller: the order is already committed.
func (e *Engine) enqueue(ctx context.Context, n *models.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Enqueue(ctx, n); err != nil {
		e.logger.Warn("notification not queued", map[string]interface{}{
			"type":  n.Type,
			"order": n.OrderID,
			"error": err.Error(),
		})
	}
}

func (e *Engine) publish(ctx context.Context, name string, order *models.Order, extra map[string]interface{}) {
	if e.events == nil {
		return
	}
	vars := map[string]interface{}{
		"orderId":    order.ID,
		"orderCode":  order.Code,
		"venueId":    order.VenueID,
		"status":     string(order.Status),
		"totalMinor": order.TotalMinor,
	}
	for k, v := range extra {
		vars[k] = v
	}
	if err := e.events.PublishMessage(ctx, name, order.ID, vars); err != nil {
		e.logger.Warn("workflow message not published", map[string]interface{}{"name": name, "orderId": order.ID, "error": err.Error()})
	}
}
