package venues

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	venueID = "0b5e3c1a-8d4f-4a51-9d8e-2a7b6c5d4e3f"
	menuID  = "6f1d2e3c-4b5a-4978-8a6b-5c4d3e2f1a0b"
	catID   = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
	itemID  = "1c2d3e4f-5a6b-4c7d-8e9f-0a1b2c3d4e5f"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// ==========================
// Directory
// ==========================

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Kigali Heights Bar", "kigali-heights-bar"},
		{"  Chez  Lando!! ", "chez-lando"},
		{"Café 250", "caf-250"},
		{"---", ""},
		{strings.Repeat("a", 70), strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}

func TestDirectory_GetVenue(t *testing.T) {
	db, mock := newMock(t)
	d := NewDirectory(db, logger.NewTestLogger(t))
	ctx := context.Background()

	t.Run("invalid id is not found without a query", func(t *testing.T) {
		_, err := d.GetVenue(ctx, "nope")
		assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	})

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "slug", "name", "location_text", "country", "city_area",
			"latitude", "longitude", "momo_code", "is_active", "created_at"}).
			AddRow(venueID, "heights", "Heights", "KG 7 Ave", "RW", "Kacyiru", -1.95, 30.06, "123456", true, time.Now())
		mock.ExpectQuery(`FROM venues WHERE id = \$1`).WithArgs(venueID).WillReturnRows(rows)

		v, err := d.GetVenue(ctx, venueID)
		require.NoError(t, err)
		assert.Equal(t, "Heights", v.Name)
		require.NotNil(t, v.Latitude)
		assert.InDelta(t, -1.95, *v.Latitude, 1e-9)
	})

	t.Run("missing row", func(t *testing.T) {
		mock.ExpectQuery(`FROM venues WHERE id = \$1`).WithArgs(venueID).WillReturnError(sql.ErrNoRows)
		_, err := d.GetVenue(ctx, venueID)
		assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_CreateVenue(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts venue and settings", func(t *testing.T) {
		db, mock := newMock(t)
		d := NewDirectory(db, logger.NewNoOpLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO venues`).
			WithArgs(sqlmock.AnyArg(), "sunset-lounge", "Sunset Lounge", "", "", "", "", "250788000111").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO venue_settings`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		v := &models.Venue{Name: "Sunset Lounge"}
		require.NoError(t, d.CreateVenue(ctx, v, "250788000111"))
		assert.NotEmpty(t, v.ID)
		assert.Equal(t, "sunset-lounge", v.Slug)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate slug is a conflict", func(t *testing.T) {
		db, mock := newMock(t)
		d := NewDirectory(db, logger.NewNoOpLogger())

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO venues`).WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := d.CreateVenue(ctx, &models.Venue{Name: "Sunset Lounge"}, "")
		assert.Equal(t, errors.KindStateConflict, errors.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty name", func(t *testing.T) {
		d := NewDirectory(nil, logger.NewNoOpLogger())
		err := d.CreateVenue(ctx, &models.Venue{Name: "  "}, "")
		assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	})
}

func TestDirectory_Settings(t *testing.T) {
	db, mock := newMock(t)
	d := NewDirectory(db, logger.NewNoOpLogger())
	ctx := context.Background()

	mock.ExpectQuery(`FROM venue_settings`).WithArgs(venueID).WillReturnError(sql.ErrNoRows)
	s, err := d.Settings(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCurrency, s.Currency)
	assert.Zero(t, s.ServiceChargePct)

	mock.ExpectQuery(`FROM venue_settings`).WithArgs(venueID).WillReturnRows(
		sqlmock.NewRows([]string{"service_charge_pct", "currency", "quiet_start", "quiet_end", "timezone", "order_email"}).
			AddRow(10.0, "RWF", "23:00", "07:00", nil, "orders@example.com"))
	s, err = d.Settings(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.ServiceChargePct)
	assert.Equal(t, "23:00", s.QuietStart)
	assert.Empty(t, s.Timezone)
	assert.Equal(t, "orders@example.com", s.OrderEmail)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_AddNumbers(t *testing.T) {
	db, mock := newMock(t)
	d := NewDirectory(db, logger.NewNoOpLogger())

	mock.ExpectExec(`INSERT INTO venue_numbers`).
		WithArgs(sqlmock.AnyArg(), venueID, "+250788000111", "manager").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO venue_numbers`).
		WithArgs(sqlmock.AnyArg(), venueID, "+250788000222", "manager").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := d.AddNumbers(context.Background(), venueID, []string{"+250788000111", "+250788000222"}, models.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "existing numbers are not counted")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectory_Nearby(t *testing.T) {
	db, mock := newMock(t)
	d := NewDirectory(db, logger.NewNoOpLogger())

	rows := sqlmock.NewRows([]string{"id", "name", "location_text", "km"}).
		AddRow("a", "A", "", 0.4).
		AddRow("b", "B", "", 1.2).
		AddRow("c", "C", "", 3.0)
	mock.ExpectQuery(`FROM venues`).WithArgs(-1.95, 30.06, 0, 3).WillReturnRows(rows)

	hits, more, err := d.Nearby(context.Background(), -1.95, 30.06, 0, 2)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].VenueID)
}

// ==========================
// Catalog
// ==========================

var itemCols = []string{"id", "venue_id", "menu_id", "category_id", "name", "description",
	"price_minor", "currency", "is_available", "modifiers"}

func TestCatalog_GetItem(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalog(db, logger.NewNoOpLogger())

	mods, _ := json.Marshal([]models.Modifier{{
		ID: "size", Name: "Size", Type: models.ModifierSingle, Required: true,
		Options: []models.ModifierOption{{ID: "l", Name: "Large", PriceDeltaMinor: 500}},
	}})
	mock.ExpectQuery(`FROM items WHERE id = \$1`).WithArgs(itemID).WillReturnRows(
		sqlmock.NewRows(itemCols).AddRow(itemID, venueID, menuID, catID, "Primus", "", int64(2000), "RWF", true, mods))

	it, err := c.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), it.PriceMinor)
	require.Len(t, it.Modifiers, 1)
	assert.Equal(t, int64(500), it.Modifiers[0].Options[0].PriceDeltaMinor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_AvailableItems(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalog(db, logger.NewNoOpLogger())

	rows := sqlmock.NewRows(itemCols)
	for i := 0; i < 3; i++ {
		rows.AddRow(itemID, venueID, menuID, catID, "Item", "", int64(1000), "RWF", true, []byte("[]"))
	}
	mock.ExpectQuery(`is_available`).WithArgs(venueID, catID, 0, 3).WillReturnRows(rows)

	items, more, err := c.AvailableItems(context.Background(), venueID, catID, 0, 2)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Len(t, items, 2)
}

func TestCatalog_DraftCounts_NoDraft(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalog(db, logger.NewNoOpLogger())

	mock.ExpectQuery(`status = 'draft'`).WithArgs(venueID).WillReturnError(sql.ErrNoRows)
	cats, items, err := c.DraftCounts(context.Background(), venueID)
	require.NoError(t, err)
	assert.Zero(t, cats)
	assert.Zero(t, items)
}

func TestCatalog_PublishDraft(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalog(db, logger.NewNoOpLogger())
	ctx := context.Background()

	mock.ExpectQuery(`status = 'draft'`).WithArgs(venueID).WillReturnRows(
		sqlmock.NewRows([]string{"id", "venue_id", "version", "status", "created_at"}).
			AddRow(menuID, venueID, 1, "draft", time.Now()))
	mock.ExpectBegin()
	mock.ExpectExec(`SET status = 'archived'`).WithArgs(venueID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SET status = 'published'`).WithArgs(menuID, venueID).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectExec(`UPDATE venues SET is_active = true`).WithArgs(venueID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m, err := c.PublishDraft(ctx, venueID)
	require.NoError(t, err)
	assert.Equal(t, models.MenuPublished, m.Status)
	assert.Equal(t, 2, m.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_PublishDraft_NoDraft(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalog(db, logger.NewNoOpLogger())

	mock.ExpectQuery(`status = 'draft'`).WithArgs(venueID).WillReturnError(sql.ErrNoRows)
	_, err := c.PublishDraft(context.Background(), venueID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestCatalog_UpdateItemPrice(t *testing.T) {
	db, mock := newMock(t)
	c := NewCatalog(db, logger.NewNoOpLogger())
	ctx := context.Background()

	assert.Equal(t, errors.KindValidation, errors.KindOf(c.UpdateItemPrice(ctx, itemID, 0)))

	mock.ExpectExec(`UPDATE items SET price_minor`).WithArgs(itemID, int64(2500)).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.Equal(t, errors.KindNotFound, errors.KindOf(c.UpdateItemPrice(ctx, itemID, 2500)))
}

// ==========================
// Search
// ==========================

func newSearchServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Search {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewSearch(client, "venues", logger.NewNoOpLogger())
}

func TestSearch_Nearby(t *testing.T) {
	var body map[string]interface{}
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/venues/_search")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"v1","_source":{"name":"Heights","location_text":"KG 7"},"sort":[0.8]},
			{"_id":"v2","_source":{"name":"Lounge"},"sort":[2.5]}
		]}}`))
	})

	hits, more, err := s.Nearby(context.Background(), -1.95, 30.06, 0, 9)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, hits, 2)
	assert.Equal(t, "v1", hits[0].VenueID)
	assert.InDelta(t, 0.8, hits[0].DistanceKm, 1e-9)
	assert.Contains(t, body, "sort")
}

func TestSearch_IndexVenue(t *testing.T) {
	var got venueDoc
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.URL.Path, "/venues/_doc/"+venueID)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	lat, lon := -1.95, 30.06
	err := s.IndexVenue(context.Background(), &models.Venue{ID: venueID, Name: "Heights", IsActive: true, Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)
	assert.Equal(t, "Heights", got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, lat, got.Location["lat"])
}

func TestSearch_EnsureIndex(t *testing.T) {
	tests := []struct {
		name        string
		existsCode  int
		createCode  int
		createBody  string
		wantCreate  bool
		wantErrCode errors.ErrorCode
	}{
		{name: "already there", existsCode: http.StatusOK},
		{name: "created", existsCode: http.StatusNotFound, createCode: http.StatusOK, createBody: `{"acknowledged":true}`, wantCreate: true},
		{name: "lost the race", existsCode: http.StatusNotFound, createCode: http.StatusBadRequest,
			createBody: `{"error":{"type":"resource_already_exists_exception"}}`, wantCreate: true},
		{name: "create rejected", existsCode: http.StatusNotFound, createCode: http.StatusBadRequest,
			createBody: `{"error":{"type":"mapper_parsing_exception"}}`, wantCreate: true, wantErrCode: errors.ErrCodeSearchQueryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mapping map[string]interface{}
			created := false
			s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.Method {
				case http.MethodHead:
					w.WriteHeader(tt.existsCode)
				case http.MethodPut:
					created = true
					raw, _ := io.ReadAll(r.Body)
					_ = json.Unmarshal(raw, &mapping)
					w.WriteHeader(tt.createCode)
					_, _ = w.Write([]byte(tt.createBody))
				}
			})

			err := s.EnsureIndex(context.Background())
			assert.Equal(t, tt.wantCreate, created)
			if tt.wantErrCode != "" {
				assert.True(t, errors.HasCode(err, tt.wantErrCode))
				return
			}
			require.NoError(t, err)
			if created {
				props := mapping["mappings"].(map[string]interface{})["properties"].(map[string]interface{})
				assert.Equal(t, "geo_point", props["location"].(map[string]interface{})["type"])
			}
		})
	}
}

func TestSearch_ErrorStatus(t *testing.T) {
	s := newSearchServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})

	_, _, err := s.Nearby(context.Background(), 0, 0, 0, 9)
	require.Error(t, err)
	se, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeSearchQueryFailed, se.Code)
}

// ==========================
// Contacts
// ==========================

func TestParseNumbers(t *testing.T) {
	ok, bad := ParseNumbers("0788000222; +250788000222 , 12, 0788000333")
	assert.Equal(t, []string{"+250788000222", "+250788000333"}, ok)
	assert.Equal(t, []string{"12"}, bad)
}

func TestNormalizeMomo(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0788123456", "+250788123456", false},
		{"123456", "123456", false},
		{"12", "", true},
		{"12ab56", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeMomo(tt.in)
			if tt.wantErr {
				assert.True(t, errors.HasCode(err, errors.ErrCodeValidationFailed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
