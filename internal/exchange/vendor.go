package exchange

import (
	"context"
	"fmt"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/venues"
)

// Vendor onboarding actions and screens.
const (
	ActionOnboardIdentity  = "a_onboard_identity"
	ActionLinkExistingBar  = "a_link_existing_bar"
	ActionOnboardContacts  = "a_onboard_contacts"
	ActionOnboardUploaded  = "a_onboard_uploaded"
	ActionPublishMenu      = "a_publish_menu"
	ScreenOnboardIdentity  = "s_onboard_identity"
	ScreenExistingBar      = "s_existing_bar"
	ScreenContactPayment   = "s_contact_payment"
	ScreenUploadMenuInfo   = "s_upload_menu_info"
	ScreenOnboardPublish   = "s_onboard_publish"
	ScreenOnboardDone      = "s_onboard_done"
	msgNotVendor           = "Only registered bar staff can do that."
	msgExistingListingHint = "We found an existing listing. Link it or adjust the bar name."
)

// Vendor order actions and screens.
const (
	ActionListOrders  = "a_list_orders"
	ActionOpenOrder   = "a_open_order"
	ActionMarkPaid    = "a_mark_paid"
	ActionMarkServed  = "a_mark_served"
	ActionCancelOrder = "a_cancel_order"
	ScreenOrdersList  = "s_orders_list"
	ScreenOrderDetail = "s_order_detail"
)

// Sessions lists the venues a number may act for.
type Sessions interface {
	Sessions(ctx context.Context, number string) ([]models.StaffSession, error)
}

// authorize fails unless waID has a vendor session for venueID.
func authorize(ctx context.Context, s Sessions, waID, venueID string) error {
	if waID == "" || venueID == "" {
		return errors.NewValidationError(msgNotVendor)
	}
	sessions, err := s.Sessions(ctx, waID)
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.VenueID == venueID {
			return nil
		}
	}
	return errors.NewValidationError(msgNotVendor)
}

// ==========================
// Vendor onboarding
// ==========================

// OnboardDirectory is the venue directory as used by onboarding.
type OnboardDirectory interface {
	Sessions
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	FindSimilar(ctx context.Context, slug, name string) ([]models.Venue, error)
	CreateVenue(ctx context.Context, v *models.Venue, createdBy string) error
	FillMissing(ctx context.Context, id string, patch models.Venue) error
	SetMomoCode(ctx context.Context, id, code string) error
	AddNumbers(ctx context.Context, venueID string, numbers []string, role models.StaffRole) (int, error)
	UpsertSession(ctx context.Context, number, venueID string, role models.StaffRole) error
}

// DraftPublisher reports on and publishes draft menus.
type DraftPublisher interface {
	DraftCounts(ctx context.Context, venueID string) (categories, items int, err error)
	PublishDraft(ctx context.Context, venueID string) (*models.Menu, error)
}

// VendorOnboard serves flow.vend.onboard.v1.
type VendorOnboard struct {
	directory OnboardDirectory
	drafts    DraftPublisher
	indexer   venues.Indexer
	logger    logger.Logger
}

// NewVendorOnboard builds the handler. indexer may be nil.
func NewVendorOnboard(directory OnboardDirectory, drafts DraftPublisher, indexer venues.Indexer, log logger.Logger) *VendorOnboard {
	return &VendorOnboard{
		directory: directory,
		drafts:    drafts,
		indexer:   indexer,
		logger:    log.WithFields(map[string]interface{}{"component": "exchange.vendor_onboard"}),
	}
}

func (h *VendorOnboard) Handle(ctx context.Context, req *Request) (*Response, error) {
	switch req.ActionID {
	case ActionOnboardIdentity:
		return h.identity(ctx, req)
	case ActionLinkExistingBar:
		return h.linkExisting(ctx, req)
	case ActionOnboardContacts:
		return h.contacts(ctx, req)
	case ActionOnboardUploaded:
		return h.uploaded(ctx, req)
	case ActionPublishMenu:
		return h.publish(ctx, req)
	}
	return unknownAction(req), nil
}

func identityPatch(req *Request) models.Venue {
	return models.Venue{
		Name:         str(req.Fields, "bar_name"),
		LocationText: str(req.Fields, "location_text"),
		Country:      str(req.Fields, "country"),
		CityArea:     str(req.Fields, "city_area"),
	}
}

func existingOptions(list []models.Venue) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(list))
	for _, v := range list {
		var where []string
		if v.LocationText != "" {
			where = append(where, v.LocationText)
		} else if v.CityArea != "" {
			where = append(where, v.CityArea)
		}
		if v.Country != "" {
			where = append(where, v.Country)
		}
		status := "Draft"
		if v.IsActive {
			status = "Live"
		}
		out = append(out, map[string]interface{}{
			"id":          v.ID,
			"title":       v.Name,
			"description": fmt.Sprintf("%s (%s)", strings.Join(where, " · "), status),
		})
	}
	return out
}

// claim makes waID a manager of venueID: a session plus an order-contact number.
func (h *VendorOnboard) claim(ctx context.Context, waID, venueID string) error {
	if err := h.directory.UpsertSession(ctx, waID, venueID, models.RoleManager); err != nil {
		return err
	}
	_, err := h.directory.AddNumbers(ctx, venueID, []string{waID}, models.RoleManager)
	return err
}

func (h *VendorOnboard) identity(ctx context.Context, req *Request) (*Response, error) {
	patch := identityPatch(req)
	slug := venues.Slug(patch.Name)
	if patch.Name == "" || slug == "" {
		return nil, errors.NewValidationError("Bar name required")
	}
	if req.WaID == "" {
		return nil, errors.NewValidationError("Missing context")
	}
	similar, err := h.directory.FindSimilar(ctx, slug, patch.Name)
	if err != nil {
		return nil, err
	}
	for _, v := range similar {
		if v.Slug == slug {
			return &Response{
				NextScreenID: ScreenExistingBar,
				Data: map[string]interface{}{
					"bar_name":      patch.Name,
					"location_text": patch.LocationText,
					"country":       patch.Country,
					"city_area":     patch.CityArea,
					"existing_bars": existingOptions(similar),
				},
				Messages: []Message{{Level: LevelWarning, Text: msgExistingListingHint}},
			}, nil
		}
	}

	v := patch
	if err := h.directory.CreateVenue(ctx, &v, req.WaID); err != nil {
		return nil, err
	}
	if err := h.claim(ctx, req.WaID, v.ID); err != nil {
		return nil, err
	}
	h.logger.Info("venue registered", map[string]interface{}{"venueId": v.ID, "slug": v.Slug})
	return &Response{NextScreenID: ScreenContactPayment, Data: map[string]interface{}{"bar_id": v.ID}}, nil
}

func (h *VendorOnboard) linkExisting(ctx context.Context, req *Request) (*Response, error) {
	id := str(req.Fields, "existing_bar_id")
	if id == "" {
		return nil, errors.NewValidationError("Select a bar to link.")
	}
	if req.WaID == "" {
		return nil, errors.NewValidationError("Missing context")
	}
	if _, err := h.directory.GetVenue(ctx, id); err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return nil, errors.NewValidationError("Existing bar not found.")
		}
		return nil, err
	}
	if err := h.directory.FillMissing(ctx, id, identityPatch(req)); err != nil {
		return nil, err
	}
	if err := h.claim(ctx, req.WaID, id); err != nil {
		return nil, err
	}
	h.logger.Info("linked existing venue", map[string]interface{}{"venueId": id, "waId": logger.MaskPhone(req.WaID)})
	return &Response{
		NextScreenID: ScreenContactPayment,
		Data:         map[string]interface{}{"bar_id": id},
		Messages:     []Message{{Level: LevelInfo, Text: "Linked to existing bar."}},
	}, nil
}

func (h *VendorOnboard) contacts(ctx context.Context, req *Request) (*Response, error) {
	venueID, csv := str(req.Fields, "bar_id"), str(req.Fields, "order_numbers_csv")
	if venueID == "" || csv == "" {
		return nil, errors.NewValidationError("Numbers required")
	}
	if err := authorize(ctx, h.directory, req.WaID, venueID); err != nil {
		return nil, err
	}
	numbers, bad := venues.ParseNumbers(csv)
	if len(bad) > 0 {
		return nil, errors.NewValidationError("These numbers look wrong: " + strings.Join(bad, ", "))
	}
	if len(numbers) == 0 {
		return nil, errors.NewValidationError("Numbers required")
	}
	if raw := str(req.Fields, "momo_code"); raw != "" {
		momo, err := venues.NormalizeMomo(raw)
		if err != nil {
			return nil, err
		}
		if err := h.directory.SetMomoCode(ctx, venueID, momo); err != nil {
			return nil, err
		}
	}
	if _, err := h.directory.AddNumbers(ctx, venueID, numbers, models.RoleManager); err != nil {
		return nil, err
	}
	return &Response{
		NextScreenID: ScreenUploadMenuInfo,
		Data:         map[string]interface{}{"bar_id": venueID},
		Messages:     []Message{{Level: LevelInfo, Text: "Contacts saved. Upload menu via chat."}},
	}, nil
}

func (h *VendorOnboard) uploaded(ctx context.Context, req *Request) (*Response, error) {
	venueID := str(req.Fields, "bar_id")
	if venueID == "" {
		return nil, errors.NewValidationError("Missing bar")
	}
	if err := authorize(ctx, h.directory, req.WaID, venueID); err != nil {
		return nil, err
	}
	cats, items, err := h.drafts.DraftCounts(ctx, venueID)
	if err != nil {
		return nil, err
	}
	resp := &Response{
		NextScreenID: ScreenOnboardPublish,
		Data: map[string]interface{}{
			"bar_id":                 venueID,
			"draft_categories_count": cats,
			"draft_items_count":      items,
		},
	}
	if items == 0 {
		resp.Messages = []Message{{Level: LevelInfo, Text: "Upload received. We'll parse your menu shortly."}}
	}
	return resp, nil
}

func (h *VendorOnboard) publish(ctx context.Context, req *Request) (*Response, error) {
	venueID := str(req.Fields, "bar_id")
	if venueID == "" {
		return nil, errors.NewValidationError("Missing bar")
	}
	if err := authorize(ctx, h.directory, req.WaID, venueID); err != nil {
		return nil, err
	}
	menu, err := h.drafts.PublishDraft(ctx, venueID)
	if errors.KindOf(err) == errors.KindNotFound {
		return nil, errors.NewValidationError("No draft menu")
	}
	if err != nil {
		return nil, err
	}
	if h.indexer != nil {
		v, err := h.directory.GetVenue(ctx, venueID)
		if err == nil {
			err = h.indexer.IndexVenue(ctx, v)
		}
		if err != nil {
			h.logger.Warn("venue indexing failed", map[string]interface{}{"venueId": venueID, "error": err.Error()})
		}
	}
	return &Response{
		NextScreenID: ScreenOnboardDone,
		Data:         map[string]interface{}{"bar_id": venueID, "version": menu.Version},
		Messages:     []Message{{Level: LevelInfo, Text: fmt.Sprintf("Version %d published. You're live!", menu.Version)}},
	}, nil
}

// ==========================
// Vendor orders
// ==========================

// VenueOrders is the order engine as seen by vendors.
type VenueOrders interface {
	ListVenueOrders(ctx context.Context, venueID string, status models.OrderStatus, offset, limit int) ([]models.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	OrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, actor models.ActorType, note string) (*models.Order, error)
}

// VendorOrders serves flow.vend.orders.v1.
type VendorOrders struct {
	sessions Sessions
	orders   VenueOrders
	logger   logger.Logger
}

func NewVendorOrders(sessions Sessions, orders VenueOrders, log logger.Logger) *VendorOrders {
	return &VendorOrders{
		sessions: sessions,
		orders:   orders,
		logger:   log.WithFields(map[string]interface{}{"component": "exchange.vendor_orders"}),
	}
}

var vendorTransitions = map[string]models.OrderStatus{
	ActionMarkPaid:    models.OrderPaid,
	ActionMarkServed:  models.OrderServed,
	ActionCancelOrder: models.OrderCancelled,
}

func (h *VendorOrders) Handle(ctx context.Context, req *Request) (*Response, error) {
	switch req.ActionID {
	case ActionListOrders:
		return h.list(ctx, req)
	case ActionOpenOrder:
		o, err := h.order(ctx, req)
		if err != nil {
			return nil, err
		}
		return h.detail(ctx, o)
	case ActionMarkPaid, ActionMarkServed, ActionCancelOrder:
		return h.transition(ctx, req, vendorTransitions[req.ActionID])
	}
	return unknownAction(req), nil
}

func parseStatus(raw string) (models.OrderStatus, error) {
	switch s := models.OrderStatus(strings.ToLower(raw)); s {
	case "", models.OrderPending, models.OrderPaid, models.OrderServed, models.OrderCancelled:
		return s, nil
	}
	return "", errors.NewValidationError("Unknown status " + raw)
}

func (h *VendorOrders) list(ctx context.Context, req *Request) (*Response, error) {
	venueID := barID(req)
	if err := authorize(ctx, h.sessions, req.WaID, venueID); err != nil {
		return nil, err
	}
	status, err := parseStatus(str(req.Fields, "status"))
	if err != nil {
		return nil, err
	}
	offset := DecodePageToken(req.PageToken)
	orders, more, err := h.orders.ListVenueOrders(ctx, venueID, status, offset, PageSize)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(orders))
	for _, o := range orders {
		desc := string(o.Status)
		if o.TableLabel != "" {
			desc += " · table " + o.TableLabel
		}
		rows = append(rows, map[string]interface{}{
			"id":          o.ID,
			"title":       fmt.Sprintf("#%s · %s", o.Code, models.FormatMoney(o.TotalMinor, o.Currency)),
			"description": desc + " · " + o.CreatedAt.Format("15:04"),
		})
	}
	next, prev := pageTokens(offset, more)
	resp := &Response{
		NextScreenID: ScreenOrdersList,
		Data: map[string]interface{}{
			"bar_id":          venueID,
			"status":          string(status),
			"orders":          rows,
			"page_token_next": next,
			"page_token_prev": prev,
		},
	}
	if len(rows) == 0 {
		resp.Messages = []Message{{Level: LevelInfo, Text: "No orders to show."}}
	}
	return resp, nil
}

// order loads the order named in fields and authorizes the requester for its venue.
func (h *VendorOrders) order(ctx context.Context, req *Request) (*models.Order, error) {
	id := str(req.Fields, "order_id")
	if id == "" {
		return nil, errors.NewValidationError("Missing order id")
	}
	o, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, h.sessions, req.WaID, o.VenueID); err != nil {
		return nil, err
	}
	return o, nil
}

func (h *VendorOrders) detail(ctx context.Context, o *models.Order) (*Response, error) {
	items, err := h.orders.OrderItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		line := fmt.Sprintf("%d× %s — %s", it.Qty, it.NameSnapshot, models.FormatMoney(it.LineTotalMinor, o.Currency))
		for _, m := range it.ModifiersSnapshot {
			line += fmt.Sprintf("\n  + %s: %s", m.ModifierName, m.OptionName)
		}
		lines = append(lines, line)
	}
	return &Response{
		NextScreenID: ScreenOrderDetail,
		Data: map[string]interface{}{
			"bar_id":          o.VenueID,
			"order_id":        o.ID,
			"order_code":      o.Code,
			"status":          string(o.Status),
			"table_label":     o.TableLabel,
			"note":            o.Note,
			"items_text":      strings.Join(lines, "\n"),
			"subtotal":        models.FormatMoney(o.SubtotalMinor, o.Currency),
			"service_charge":  models.FormatMoney(o.ServiceChargeMinor, o.Currency),
			"total":           models.FormatMoney(o.TotalMinor, o.Currency),
			"can_mark_paid":   models.CanTransition(o.Status, models.OrderPaid),
			"can_mark_served": models.CanTransition(o.Status, models.OrderServed),
			"can_cancel":      models.CanTransition(o.Status, models.OrderCancelled),
		},
	}, nil
}

func (h *VendorOrders) transition(ctx context.Context, req *Request, to models.OrderStatus) (*Response, error) {
	o, err := h.order(ctx, req)
	if err != nil {
		return nil, err
	}
	updated, err := h.orders.UpdateOrderStatus(ctx, o.ID, to, models.ActorVendor, str(req.Fields, "note"))
	if err != nil {
		return nil, err
	}
	resp, err := h.detail(ctx, updated)
	if err != nil {
		return nil, err
	}
	resp.Messages = []Message{{Level: LevelInfo, Text: fmt.Sprintf("Order #%s marked %s.", updated.Code, updated.Status)}}
	return resp, nil
}
