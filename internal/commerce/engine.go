package commerce

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"dinein-commerce/internal/common/clock"
	"dinein-commerce/internal/common/database"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/google/uuid"
)

// Venues is the slice of the venue directory the engine needs.
type Venues interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	Settings(ctx context.Context, venueID string) (*models.VenueSettings, error)
	OrderContacts(ctx context.Context, venueID string) ([]string, error)
}

// Enqueuer queues an outbound notification.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// EventPublisher forwards order lifecycle events to the workflow engine.
type EventPublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}) error
}

// Engine owns carts and orders. All writes that touch money run in one transaction with a
// row lock on the cart or order.
type Engine struct {
	db       *sql.DB
	venues   Venues
	notifier Enqueuer
	events   EventPublisher
	clock    clock.Clock
	logger   logger.Logger
}

type Option func(*Engine)

func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func NewEngine(db *sql.DB, venues Venues, notifier Enqueuer, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		venues:   venues,
		notifier: notifier,
		clock:    clock.Real(),
		logger:   log.WithFields(map[string]interface{}{"component": "commerce"}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const cartColumns = `id, subject_id, venue_id, status, subtotal_minor, service_charge_minor, total_minor`

func scanCart(row interface{ Scan(...interface{}) error }) (*models.Cart, error) {
	var (
		c      models.Cart
		status string
	)
	if err := row.Scan(&c.ID, &c.SubjectID, &c.VenueID, &status, &c.SubtotalMinor, &c.ServiceChargeMinor, &c.TotalMinor); err != nil {
		return nil, err
	}
	c.Status = models.CartStatus(status)
	return &c, nil
}

func (e *Engine) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	if _, err := uuid.Parse(cartID); err != nil {
		return nil, errors.NewNotFoundError("cart", cartID)
	}
	c, err := scanCart(e.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("cart", cartID)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_cart", err)
	}
	return c, nil
}

// CurrentCart returns the subject's open cart at venueID.
func (e *Engine) CurrentCart(ctx context.Context, subjectID, venueID string) (*models.Cart, error) {
	c, err := scanCart(e.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts
		WHERE subject_id = $1 AND venue_id = $2 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1`, subjectID, venueID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("cart", subjectID)
	}
	if err != nil {
		return nil, errors.WrapQuery("current_cart", err)
	}
	return c, nil
}

// OpenCart returns the subject's open cart at venueID, creating an empty one if needed.
func (e *Engine) OpenCart(ctx context.Context, subjectID, venueID string) (*models.Cart, error) {
	c, err := e.CurrentCart(ctx, subjectID, venueID)
	if err == nil || errors.KindOf(err) != errors.KindNotFound {
		return c, err
	}
	c = &models.Cart{ID: uuid.NewString(), SubjectID: subjectID, VenueID: venueID, Status: models.CartOpen}
	if _, err := e.db.ExecContext(ctx,
		`INSERT INTO carts (id, subject_id, venue_id, status) VALUES ($1, $2, $3, 'open')`,
		c.ID, subjectID, venueID); err != nil {
		return nil, errors.WrapQuery("create_cart", err)
	}
	return c, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func cartLines(ctx context.Context, q queryer, cartID string) ([]models.CartLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, cart_id, item_id, name_snapshot, unit_price_minor, qty, modifiers_snapshot, line_total_minor
		FROM cart_items WHERE cart_id = $1 ORDER BY name_snapshot, id`, cartID)
	if err != nil {
		return nil, errors.WrapQuery("cart_lines", err)
	}
	defer rows.Close()

	var out []models.CartLine
	for rows.Next() {
		var (
			l    models.CartLine
			mods []byte
		)
		if err := rows.Scan(&l.ID, &l.CartID, &l.ItemID, &l.NameSnapshot, &l.UnitPriceMinor, &l.Qty, &mods, &l.LineTotalMinor); err != nil {
			return nil, errors.WrapQuery("cart_lines", err)
		}
		if len(mods) > 0 {
			_ = json.Unmarshal(mods, &l.ModifiersSnapshot)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapQuery("cart_lines", err)
	}
	return out, nil
}

func (e *Engine) CartLines(ctx context.Context, cartID string) ([]models.CartLine, error) {
	return cartLines(ctx, e.db, cartID)
}

// lockOpenCart takes the row lock and refuses carts that already became orders.
func lockOpenCart(ctx context.Context, tx *sql.Tx, cartID string) (*models.Cart, error) {
	c, err := scanCart(tx.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE`, cartID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("cart", cartID)
	}
	if err != nil {
		return nil, errors.WrapQuery("lock_cart", err)
	}
	if c.Status != models.CartOpen {
		return nil, errors.NewStateConflictError("cart is " + string(c.Status))
	}
	return c, nil
}

// repriceTx recomputes every line total and writes the cart totals in a single pass.
func repriceTx(ctx context.Context, tx *sql.Tx, cartID string, pct float64) (models.Totals, error) {
	if _, err := tx.ExecContext(ctx,
		`UPDATE cart_items SET line_total_minor = unit_price_minor * qty WHERE cart_id = $1`, cartID); err != nil {
		return models.Totals{}, errors.WrapQuery("reprice_lines", err)
	}
	var subtotal int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(line_total_minor), 0) FROM cart_items WHERE cart_id = $1`, cartID).Scan(&subtotal); err != nil {
		return models.Totals{}, errors.WrapQuery("reprice_sum", err)
	}
	service := models.ServiceCharge(subtotal, pct)
	t := models.Totals{SubtotalMinor: subtotal, ServiceChargeMinor: service, TotalMinor: subtotal + service}
	if _, err := tx.ExecContext(ctx, `
		UPDATE carts SET subtotal_minor = $2, service_charge_minor = $3, total_minor = $4, updated_at = now()
		WHERE id = $1`, cartID, t.SubtotalMinor, t.ServiceChargeMinor, t.TotalMinor); err != nil {
		return models.Totals{}, errors.WrapQuery("reprice_cart", err)
	}
	return t, nil
}

func (e *Engine) serviceChargePct(ctx context.Context, venueID string) (float64, error) {
	s, err := e.venues.Settings(ctx, venueID)
	if err != nil {
		return 0, err
	}
	return s.ServiceChargePct, nil
}

// RepriceCart recomputes and stores a cart's totals.
func (e *Engine) RepriceCart(ctx context.Context, cartID string) (*models.Totals, error) {
	cart, err := e.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	pct, err := e.serviceChargePct(ctx, cart.VenueID)
	if err != nil {
		return nil, err
	}
	var t models.Totals
	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if _, err := lockOpenCart(ctx, tx, cartID); err != nil {
			return err
		}
		t, err = repriceTx(ctx, tx, cartID, pct)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertCartLine adds qty of item with the given options. A line with the same fingerprint
// absorbs the quantity instead of creating a duplicate.
func (e *Engine) UpsertCartLine(ctx context.Context, cartID string, item *models.MenuItem, mods []models.ModifierSnapshot, qty int) (*models.CartLine, *models.Totals, error) {
	if qty < 1 {
		return nil, nil, errors.NewValidationError("quantity must be at least 1")
	}
	if !item.IsAvailable {
		return nil, nil, errors.NewValidationError("Item unavailable")
	}
	cart, err := e.GetCart(ctx, cartID)
	if err != nil {
		return nil, nil, err
	}
	if cart.VenueID != item.VenueID {
		return nil, nil, errors.NewValidationError("item belongs to another venue")
	}
	pct, err := e.serviceChargePct(ctx, cart.VenueID)
	if err != nil {
		return nil, nil, err
	}

	sorted := append([]models.ModifierSnapshot(nil), mods...)
	SortSnapshots(sorted)
	unit := UnitPrice(item.PriceMinor, sorted)
	modsJSON, _ := json.Marshal(sorted)
	if sorted == nil {
		modsJSON = []byte("[]")
	}

	line := &models.CartLine{
		CartID:            cartID,
		ItemID:            item.ID,
		NameSnapshot:      item.Name,
		UnitPriceMinor:    unit,
		ModifiersSnapshot: sorted,
	}
	var totals models.Totals
	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if _, err := lockOpenCart(ctx, tx, cartID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO cart_items (id, cart_id, item_id, name_snapshot, unit_price_minor, qty, modifiers_snapshot, fingerprint, line_total_minor)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $5 * $6)
			ON CONFLICT (cart_id, fingerprint) DO UPDATE
			SET qty = cart_items.qty + EXCLUDED.qty,
			    line_total_minor = cart_items.unit_price_minor * (cart_items.qty + EXCLUDED.qty)
			RETURNING id, qty, line_total_minor`,
			uuid.NewString(), cartID, item.ID, item.Name, unit, qty, modsJSON, Fingerprint(item.ID, unit, sorted),
		).Scan(&line.ID, &line.Qty, &line.LineTotalMinor); err != nil {
			return errors.WrapQuery("upsert_cart_line", err)
		}
		totals, err = repriceTx(ctx, tx, cartID, pct)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return line, &totals, nil
}

// UpdateLineQty sets a line's quantity; zero or less removes the line.
func (e *Engine) UpdateLineQty(ctx context.Context, cartID, lineID string, qty int) (*models.Totals, error) {
	cart, err := e.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	pct, err := e.serviceChargePct(ctx, cart.VenueID)
	if err != nil {
		return nil, err
	}

	var totals models.Totals
	err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		if _, err := lockOpenCart(ctx, tx, cartID); err != nil {
			return err
		}
		var res sql.Result
		if qty <= 0 {
			res, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1 AND cart_id = $2`, lineID, cartID)
		} else {
			res, err = tx.ExecContext(ctx, `UPDATE cart_items SET qty = $3 WHERE id = $1 AND cart_id = $2`, lineID, cartID, qty)
		}
		if err != nil {
			return errors.WrapQuery("update_cart_line", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFoundError("cart line", lineID)
		}
		totals, err = repriceTx(ctx, tx, cartID, pct)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &totals, nil
}
