// Package venues owns venue records, their menus and venue discovery.
package venues

import (
	"context"
	"database/sql"
	stderrors "errors"
	"regexp"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases name and collapses anything outside [a-z0-9] into single dashes.
func Slug(name string) string {
	s := slugStrip.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = strings.TrimRight(s[:64], "-")
	}
	return s
}

// Directory reads and writes venues, their settings, numbers and vendor sessions.
type Directory struct {
	db     *sql.DB
	logger logger.Logger
}

func NewDirectory(db *sql.DB, log logger.Logger) *Directory {
	return &Directory{db: db, logger: log.WithFields(map[string]interface{}{"component": "venues"})}
}

const venueColumns = `id, slug, name, COALESCE(location_text, ''), COALESCE(country, ''), COALESCE(city_area, ''),
	latitude, longitude, COALESCE(momo_code, ''), is_active, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVenue(row rowScanner) (*models.Venue, error) {
	var (
		v        models.Venue
		lat, lon sql.NullFloat64
	)
	if err := row.Scan(&v.ID, &v.Slug, &v.Name, &v.LocationText, &v.Country, &v.CityArea,
		&lat, &lon, &v.MomoCode, &v.IsActive, &v.CreatedAt); err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		v.Latitude = &lat.Float64
		v.Longitude = &lon.Float64
	}
	return &v, nil
}

func (d *Directory) GetVenue(ctx context.Context, id string) (*models.Venue, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewNotFoundError("venue", id)
	}
	v, err := scanVenue(d.db.QueryRowContext(ctx, `SELECT `+venueColumns+` FROM venues WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("venue", id)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_venue", err)
	}
	return v, nil
}

// FindSimilar returns up to five venues whose slug matches exactly or whose name contains name.
func (d *Directory) FindSimilar(ctx context.Context, slug, name string) ([]models.Venue, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+venueColumns+` FROM venues
		WHERE slug = $1 OR name ILIKE '%' || $2 || '%'
		ORDER BY (slug = $1) DESC, name
		LIMIT 5`, slug, name)
	if err != nil {
		return nil, errors.WrapQuery("find_similar_venues", err)
	}
	defer rows.Close()

	var out []models.Venue
	for rows.Next() {
		v, err := scanVenue(rows)
		if err != nil {
			return nil, errors.WrapQuery("find_similar_venues", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// CreateVenue inserts v (assigning ID and slug when empty) together with default settings.
func (d *Directory) CreateVenue(ctx context.Context, v *models.Venue, createdBy string) error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.NewValidationError("venue name is required")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Slug == "" {
		v.Slug = Slug(v.Name)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientError("create venue", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO venues (id, slug, name, location_text, country, city_area, momo_code, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		v.ID, v.Slug, v.Name, v.LocationText, v.Country, v.CityArea, v.MomoCode, createdBy)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errors.NewStateConflictError("a venue with this name already exists")
		}
		return errors.WrapQuery("create_venue", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO venue_settings (venue_id) VALUES ($1) ON CONFLICT (venue_id) DO NOTHING`, v.ID); err != nil {
		return errors.WrapQuery("create_venue_settings", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewTransientError("create venue", err)
	}

	d.logger.Info("venue created", map[string]interface{}{"venueId": v.ID, "slug": v.Slug})
	return nil
}

// FillMissing copies non-empty identity fields onto the venue where the stored value is empty.
// A differing name replaces the stored one.
func (d *Directory) FillMissing(ctx context.Context, id string, patch models.Venue) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE venues SET
			name          = COALESCE(NULLIF($2, ''), name),
			location_text = COALESCE(NULLIF(location_text, ''), NULLIF($3, '')),
			country       = COALESCE(NULLIF(country, ''), NULLIF($4, '')),
			city_area     = COALESCE(NULLIF(city_area, ''), NULLIF($5, ''))
		WHERE id = $1`,
		id, patch.Name, patch.LocationText, patch.Country, patch.CityArea)
	if err != nil {
		return errors.WrapQuery("fill_venue", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("venue", id)
	}
	return nil
}

func (d *Directory) SetLocation(ctx context.Context, id string, lat, lon float64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE venues SET latitude = $2, longitude = $3 WHERE id = $1`, id, lat, lon)
	return errors.WrapQuery("set_venue_location", err)
}

func (d *Directory) SetMomoCode(ctx context.Context, id, code string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE venues SET momo_code = $2 WHERE id = $1`, id, code)
	return errors.WrapQuery("set_venue_momo", err)
}

// Settings returns the venue's settings, falling back to defaults when no row exists.
func (d *Directory) Settings(ctx context.Context, venueID string) (*models.VenueSettings, error) {
	s := models.VenueSettings{VenueID: venueID, Currency: models.DefaultCurrency}
	var quietStart, quietEnd, tz, email sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT service_charge_pct, currency, quiet_start, quiet_end, timezone, order_email
		FROM venue_settings WHERE venue_id = $1`, venueID,
	).Scan(&s.ServiceChargePct, &s.Currency, &quietStart, &quietEnd, &tz, &email)
	if stderrors.Is(err, sql.ErrNoRows) {
		return &s, nil
	}
	if err != nil {
		return nil, errors.WrapQuery("get_venue_settings", err)
	}
	s.QuietStart, s.QuietEnd, s.Timezone, s.OrderEmail = quietStart.String, quietEnd.String, tz.String, email.String
	return &s, nil
}

// AddNumbers attaches numbers to a venue with role, ignoring ones already attached.
func (d *Directory) AddNumbers(ctx context.Context, venueID string, numbers []string, role models.StaffRole) (int, error) {
	added := 0
	for _, n := range numbers {
		res, err := d.db.ExecContext(ctx, `
			INSERT INTO venue_numbers (id, venue_id, number_address, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (venue_id, number_address) DO NOTHING`,
			uuid.NewString(), venueID, n, string(role))
		if err != nil {
			return added, errors.WrapQuery("add_venue_number", err)
		}
		if c, _ := res.RowsAffected(); c > 0 {
			added++
		}
	}
	return added, nil
}

const numberColumns = `id, venue_id, number_address, role, is_active, COALESCE(verification_code_hash, ''),
	verification_expires_at, verification_attempts, verified_at`

func scanNumber(row rowScanner) (*models.VenueNumber, error) {
	var (
		n                 models.VenueNumber
		role              string
		expires, verified sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.VenueID, &n.NumberAddress, &role, &n.IsActive, &n.VerificationCodeHash,
		&expires, &n.VerificationAttempts, &verified); err != nil {
		return nil, err
	}
	n.Role = models.StaffRole(role)
	if expires.Valid {
		n.VerificationExpiresAt = &expires.Time
	}
	if verified.Valid {
		n.VerifiedAt = &verified.Time
	}
	return &n, nil
}

// ListNumbers pages through a venue's numbers ordered by role then number.
func (d *Directory) ListNumbers(ctx context.Context, venueID string, offset, limit int) ([]models.VenueNumber, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+numberColumns+` FROM venue_numbers
		WHERE venue_id = $1 AND is_active
		ORDER BY role, number_address
		OFFSET $2 LIMIT $3`, venueID, offset, limit)
	if err != nil {
		return nil, errors.WrapQuery("list_venue_numbers", err)
	}
	defer rows.Close()

	var out []models.VenueNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, errors.WrapQuery("list_venue_numbers", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (d *Directory) GetNumber(ctx context.Context, id string) (*models.VenueNumber, error) {
	n, err := scanNumber(d.db.QueryRowContext(ctx, `SELECT `+numberColumns+` FROM venue_numbers WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("number", id)
	}
	if err != nil {
		return nil, errors.WrapQuery("get_venue_number", err)
	}
	return n, nil
}

// DeactivateNumber detaches a number and drops its vendor session for the venue.
func (d *Directory) DeactivateNumber(ctx context.Context, id string) error {
	n, err := d.GetNumber(ctx, id)
	if err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx,
		`UPDATE venue_numbers SET is_active = false, verification_code_hash = NULL, verification_expires_at = NULL WHERE id = $1`, id); err != nil {
		return errors.WrapQuery("deactivate_venue_number", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE number_address = $1 AND venue_id = $2`, n.NumberAddress, n.VenueID); err != nil {
		return errors.WrapQuery("delete_session", err)
	}
	return nil
}

// OrderContacts lists the numbers that receive order notifications: active and not awaiting verification.
func (d *Directory) OrderContacts(ctx context.Context, venueID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT number_address FROM venue_numbers
		WHERE venue_id = $1 AND is_active AND verification_code_hash IS NULL
		ORDER BY role, number_address`, venueID)
	if err != nil {
		return nil, errors.WrapQuery("venue_order_contacts", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.WrapQuery("venue_order_contacts", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertSession grants number vendor access to venueID.
func (d *Directory) UpsertSession(ctx context.Context, number, venueID string, role models.StaffRole) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (number_address, venue_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (number_address, venue_id) DO UPDATE SET role = EXCLUDED.role`,
		number, venueID, string(role))
	return errors.WrapQuery("upsert_session", err)
}

// Sessions returns the venues number may act for, managers first.
func (d *Directory) Sessions(ctx context.Context, number string) ([]models.StaffSession, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT number_address, venue_id, role, created_at FROM sessions
		WHERE number_address = $1
		ORDER BY role, created_at`, number)
	if err != nil {
		return nil, errors.WrapQuery("list_sessions", err)
	}
	defer rows.Close()

	var out []models.StaffSession
	for rows.Next() {
		var (
			s    models.StaffSession
			role string
		)
		if err := rows.Scan(&s.NumberAddress, &s.VenueID, &role, &s.CreatedAt); err != nil {
			return nil, errors.WrapQuery("list_sessions", err)
		}
		s.Role = models.StaffRole(role)
		out = append(out, s)
	}
	return out, rows.Err()
}
