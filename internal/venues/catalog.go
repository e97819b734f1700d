package venues

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"dinein-commerce/internal/common/database"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/google/uuid"
)

// Catalog reads and edits menus, categories and items.
type Catalog struct {
	db     *sql.DB
	logger logger.Logger
}

func NewCatalog(db *sql.DB, log logger.Logger) *Catalog {
	return &Catalog{db: db, logger: log.WithFields(map[string]interface{}{"component": "catalog"})}
}

func (c *Catalog) scanMenu(row rowScanner, what, venueID string) (*models.Menu, error) {
	var (
		m      models.Menu
		status string
	)
	err := row.Scan(&m.ID, &m.VenueID, &m.Version, &status, &m.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError(what, venueID)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_menu", err)
	}
	m.Status = models.MenuStatus(status)
	return &m, nil
}

const menuColumns = `id, venue_id, version, status, created_at`

// PublishedMenu is the menu customers browse.
func (c *Catalog) PublishedMenu(ctx context.Context, venueID string) (*models.Menu, error) {
	return c.scanMenu(c.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus
		WHERE venue_id = $1 AND status = 'published'
		ORDER BY version DESC LIMIT 1`, venueID), "menu", venueID)
}

// DraftMenu is the newest draft awaiting publication.
func (c *Catalog) DraftMenu(ctx context.Context, venueID string) (*models.Menu, error) {
	return c.scanMenu(c.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus
		WHERE venue_id = $1 AND status = 'draft'
		ORDER BY created_at DESC LIMIT 1`, venueID), "draft menu", venueID)
}

// LatestMenu is the newest menu in any status; vendors review it.
func (c *Catalog) LatestMenu(ctx context.Context, venueID string) (*models.Menu, error) {
	return c.scanMenu(c.db.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM menus
		WHERE venue_id = $1 AND status <> 'archived'
		ORDER BY version DESC, created_at DESC LIMIT 1`, venueID), "menu", venueID)
}

func (c *Catalog) queryCategories(ctx context.Context, query string, args ...interface{}) ([]models.Category, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapQuery("list_categories", err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		var (
			cat    models.Category
			parent sql.NullString
		)
		if err := rows.Scan(&cat.ID, &cat.VenueID, &cat.MenuID, &parent, &cat.Name); err != nil {
			return nil, errors.WrapQuery("list_categories", err)
		}
		cat.ParentID = parent.String
		out = append(out, cat)
	}
	return out, rows.Err()
}

const categoryColumns = `id, venue_id, menu_id, parent_id, name`

// TopCategories lists the root categories of a menu.
func (c *Catalog) TopCategories(ctx context.Context, menuID string) ([]models.Category, error) {
	return c.queryCategories(ctx, `SELECT `+categoryColumns+` FROM categories
		WHERE menu_id = $1 AND parent_id IS NULL
		ORDER BY sort_order, name`, menuID)
}

func (c *Catalog) Subcategories(ctx context.Context, parentID string) ([]models.Category, error) {
	return c.queryCategories(ctx, `SELECT `+categoryColumns+` FROM categories
		WHERE parent_id = $1
		ORDER BY sort_order, name`, parentID)
}

func (c *Catalog) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewNotFoundError("category", id)
	}
	cats, err := c.queryCategories(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, errors.NewNotFoundError("category", id)
	}
	return &cats[0], nil
}

const itemColumns = `id, venue_id, menu_id, category_id, name, COALESCE(description, ''), price_minor, currency,
	is_available, modifiers`

func scanItem(row rowScanner) (*models.MenuItem, error) {
	var (
		it       models.MenuItem
		category sql.NullString
		mods     []byte
	)
	if err := row.Scan(&it.ID, &it.VenueID, &it.MenuID, &category, &it.Name, &it.Description,
		&it.PriceMinor, &it.Currency, &it.IsAvailable, &mods); err != nil {
		return nil, err
	}
	it.CategoryID = category.String
	if len(mods) > 0 {
		if err := json.Unmarshal(mods, &it.Modifiers); err != nil {
			return nil, err
		}
	}
	return &it, nil
}

func (c *Catalog) queryItems(ctx context.Context, op, query string, args ...interface{}) ([]models.MenuItem, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapQuery(op, err)
	}
	defer rows.Close()

	var out []models.MenuItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.WrapQuery(op, err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// AvailableItems pages through orderable items of a category. It fetches one extra row so
// callers can tell whether another page exists.
func (c *Catalog) AvailableItems(ctx context.Context, venueID, categoryID string, offset, limit int) ([]models.MenuItem, bool, error) {
	items, err := c.queryItems(ctx, "list_available_items", `SELECT `+itemColumns+` FROM items
		WHERE venue_id = $1 AND category_id = $2 AND is_available
		ORDER BY sort_order, name
		OFFSET $3 LIMIT $4`, venueID, categoryID, offset, limit+1)
	if err != nil {
		return nil, false, err
	}
	if len(items) > limit {
		return items[:limit], true, nil
	}
	return items, false, nil
}

// MenuItems pages through every item of a menu, available or not.
func (c *Catalog) MenuItems(ctx context.Context, menuID string, offset, limit int) ([]models.MenuItem, bool, error) {
	items, err := c.queryItems(ctx, "list_menu_items", `SELECT `+itemColumns+` FROM items
		WHERE menu_id = $1
		ORDER BY sort_order, name
		OFFSET $2 LIMIT $3`, menuID, offset, limit+1)
	if err != nil {
		return nil, false, err
	}
	if len(items) > limit {
		return items[:limit], true, nil
	}
	return items, false, nil
}

func (c *Catalog) GetItem(ctx context.Context, id string) (*models.MenuItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewNotFoundError("item", id)
	}
	it, err := scanItem(c.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("item", id)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_item", err)
	}
	return it, nil
}

func (c *Catalog) updateItem(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.WrapQuery(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("item", args[0].(string))
	}
	return nil
}

func (c *Catalog) UpdateItemPrice(ctx context.Context, id string, priceMinor int64) error {
	if priceMinor <= 0 {
		return errors.NewValidationError("price must be positive")
	}
	return c.updateItem(ctx, "update_item_price", `UPDATE items SET price_minor = $2 WHERE id = $1`, id, priceMinor)
}

func (c *Catalog) RenameItem(ctx context.Context, id, name string) error {
	if len(name) < 2 || len(name) > 80 {
		return errors.NewValidationError("name must be 2 to 80 characters")
	}
	return c.updateItem(ctx, "rename_item", `UPDATE items SET name = $2 WHERE id = $1`, id, name)
}

// ToggleItem flips availability and returns the new value.
func (c *Catalog) ToggleItem(ctx context.Context, id string) (bool, error) {
	var available bool
	err := c.db.QueryRowContext(ctx,
		`UPDATE items SET is_available = NOT is_available WHERE id = $1 RETURNING is_available`, id,
	).Scan(&available)
	if stderrors.Is(err, sql.ErrNoRows) {
		return false, errors.NewNotFoundError("item", id)
	}
	if err != nil {
		return false, errors.WrapQuery("toggle_item", err)
	}
	return available, nil
}

// DraftCounts counts categories and items on the newest draft menu; zero when there is none.
func (c *Catalog) DraftCounts(ctx context.Context, venueID string) (categories, items int, err error) {
	menu, err := c.DraftMenu(ctx, venueID)
	if errors.KindOf(err) == errors.KindNotFound {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	err = c.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM categories WHERE menu_id = $1),
		       (SELECT count(*) FROM items WHERE menu_id = $1)`, menu.ID,
	).Scan(&categories, &items)
	if err != nil {
		return 0, 0, errors.WrapQuery("draft_counts", err)
	}
	return categories, items, nil
}

// PublishDraft archives the live menu, promotes the newest draft and activates the venue.
func (c *Catalog) PublishDraft(ctx context.Context, venueID string) (*models.Menu, error) {
	draft, err := c.DraftMenu(ctx, venueID)
	if err != nil {
		return nil, err
	}

	err = database.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE menus SET status = 'archived' WHERE venue_id = $1 AND status = 'published'`, venueID); err != nil {
			return errors.WrapQuery("archive_menu", err)
		}
		if err := tx.QueryRowContext(ctx, `
			UPDATE menus SET status = 'published',
				version = (SELECT COALESCE(MAX(version), 0) + 1 FROM menus WHERE venue_id = $2)
			WHERE id = $1
			RETURNING version`, draft.ID, venueID).Scan(&draft.Version); err != nil {
			return errors.WrapQuery("publish_menu", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE venues SET is_active = true WHERE id = $1`, venueID); err != nil {
			return errors.WrapQuery("activate_venue", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	draft.Status = models.MenuPublished
	c.logger.Info("menu published", map[string]interface{}{"venueId": venueID, "menuId": draft.ID, "version": draft.Version})
	return draft, nil
}

// RecordUpload stores a menu media upload; it returns the venue's upload count.
func (c *Catalog) RecordUpload(ctx context.Context, u *models.MenuUpload) (int, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Status == "" {
		u.Status = "received"
	}
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO menu_uploads (id, venue_id, media_id, mime_type, status, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.VenueID, u.MediaID, u.MimeType, u.Status, u.UploadedBy); err != nil {
		return 0, errors.WrapQuery("record_upload", err)
	}
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM menu_uploads WHERE venue_id = $1`, u.VenueID).Scan(&n); err != nil {
		return 0, errors.WrapQuery("count_uploads", err)
	}
	return n, nil
}
