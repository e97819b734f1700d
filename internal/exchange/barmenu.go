package exchange

import (
	"context"
	"fmt"
	"strings"

	"dinein-commerce/internal/commerce"
	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"
)

// Customer menu actions.
const (
	ActionOpenMenu           = "a_open_menu"
	ActionSelectCategory     = "a_select_category"
	ActionSelectSubcategory  = "a_select_subcategory"
	ActionOpenItems          = "a_open_items"
	ActionPagedItems         = "a_paged_items"
	ActionOpenItem           = "a_open_item"
	ActionAddToCart          = "a_add_to_cart"
	ActionViewCart           = "a_view_cart"
	ActionEditCart           = "a_edit_cart"
	ActionUpdateLine         = "a_update_line"
	ActionPlaceOrder         = "a_place_order"
	ActionCustomerPaidSignal = "a_customer_paid_signal"
	ActionViewStatus         = "a_view_status"
)

// Customer menu screens.
const (
	ScreenCategories    = "s_categories"
	ScreenSubcategories = "s_subcategories"
	ScreenItems         = "s_items"
	ScreenItemDetail    = "s_item_detail"
	ScreenCartView      = "s_cart_view"
	ScreenCartEdit      = "s_cart_edit"
	ScreenPayment       = "s_payment"
	ScreenOrderStatus   = "s_order_status"
)

// MenuCatalog is the published-menu view customers browse.
type MenuCatalog interface {
	PublishedMenu(ctx context.Context, venueID string) (*models.Menu, error)
	TopCategories(ctx context.Context, menuID string) ([]models.Category, error)
	Subcategories(ctx context.Context, parentID string) ([]models.Category, error)
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	AvailableItems(ctx context.Context, venueID, categoryID string, offset, limit int) ([]models.MenuItem, bool, error)
	GetItem(ctx context.Context, id string) (*models.MenuItem, error)
}

// VenueLookup resolves venues and their pricing settings.
type VenueLookup interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	Settings(ctx context.Context, venueID string) (*models.VenueSettings, error)
}

// Carts is the cart and order engine as seen by customers.
type Carts interface {
	OpenCart(ctx context.Context, subjectID, venueID string) (*models.Cart, error)
	GetCart(ctx context.Context, cartID string) (*models.Cart, error)
	CartLines(ctx context.Context, cartID string) ([]models.CartLine, error)
	UpsertCartLine(ctx context.Context, cartID string, item *models.MenuItem, mods []models.ModifierSnapshot, qty int) (*models.CartLine, *models.Totals, error)
	UpdateLineQty(ctx context.Context, cartID, lineID string, qty int) (*models.Totals, error)
	RepriceCart(ctx context.Context, cartID string) (*models.Totals, error)
	PlaceOrder(ctx context.Context, cartID, subjectID string, opts commerce.PlaceOptions) (*commerce.PlacedOrder, error)
	CustomerPaidSignal(ctx context.Context, orderID, subjectID string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	Timeline(ctx context.Context, orderID string) ([]models.OrderEvent, error)
}

// CustomerMenu serves flow.cust.bar_menu.v1: browse, cart, checkout and order status.
type CustomerMenu struct {
	catalog MenuCatalog
	venues  VenueLookup
	carts   Carts
	logger  logger.Logger
}

func NewCustomerMenu(catalog MenuCatalog, venues VenueLookup, carts Carts, log logger.Logger) *CustomerMenu {
	return &CustomerMenu{
		catalog: catalog,
		venues:  venues,
		carts:   carts,
		logger:  log.WithFields(map[string]interface{}{"component": "exchange.customer_menu"}),
	}
}

func (h *CustomerMenu) Handle(ctx context.Context, req *Request) (*Response, error) {
	switch req.ActionID {
	case ActionOpenMenu:
		return h.openMenu(ctx, req)
	case ActionSelectCategory:
		return h.selectCategory(ctx, req)
	case ActionSelectSubcategory, ActionOpenItems:
		return h.listItems(ctx, req, 0)
	case ActionPagedItems:
		return h.listItems(ctx, req, DecodePageToken(req.PageToken))
	case ActionOpenItem:
		return h.openItem(ctx, req)
	case ActionAddToCart:
		return h.addToCart(ctx, req)
	case ActionViewCart:
		return h.viewCart(ctx, req)
	case ActionEditCart:
		return h.editCart(ctx, req)
	case ActionUpdateLine:
		return h.updateLine(ctx, req)
	case ActionPlaceOrder:
		return h.placeOrder(ctx, req)
	case ActionCustomerPaidSignal:
		return h.customerPaid(ctx, req)
	case ActionViewStatus:
		return h.viewStatus(ctx, req)
	}
	return unknownAction(req), nil
}

func (h *CustomerMenu) currency(ctx context.Context, venueID string) string {
	s, err := h.venues.Settings(ctx, venueID)
	if err != nil || s.Currency == "" {
		return models.DefaultCurrency
	}
	return s.Currency
}

// publishedMenu returns nil without error when the venue has nothing published.
func (h *CustomerMenu) publishedMenu(ctx context.Context, venueID string) (*models.Menu, error) {
	menu, err := h.catalog.PublishedMenu(ctx, venueID)
	if errors.KindOf(err) == errors.KindNotFound {
		return nil, nil
	}
	return menu, err
}

func options(cats []models.Category) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(cats))
	for _, c := range cats {
		out = append(out, map[string]interface{}{"id": c.ID, "title": c.Name})
	}
	return out
}

func (h *CustomerMenu) openMenu(ctx context.Context, req *Request) (*Response, error) {
	venueID := barID(req)
	if venueID == "" {
		return nil, errors.NewValidationError("Missing bar id")
	}
	venue, err := h.venues.GetVenue(ctx, venueID)
	if err != nil {
		return nil, err
	}
	menu, err := h.publishedMenu(ctx, venueID)
	if err != nil {
		return nil, err
	}
	if menu == nil {
		return stayOn(req, LevelWarning, "Menu not available yet."), nil
	}
	cats, err := h.catalog.TopCategories(ctx, menu.ID)
	if err != nil {
		return nil, err
	}
	hasSubs := false
	for _, c := range cats {
		subs, err := h.catalog.Subcategories(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if len(subs) > 0 {
			hasSubs = true
			break
		}
	}
	return &Response{
		NextScreenID: ScreenCategories,
		Data: map[string]interface{}{
			"bar_id":            venueID,
			"bar_name":          venue.Name,
			"categories":        options(cats),
			"has_subcategories": hasSubs,
			"subcategories":     []map[string]interface{}{},
		},
	}, nil
}

// venueCategory loads a category and checks it belongs to venueID.
func (h *CustomerMenu) venueCategory(ctx context.Context, venueID, id string) (*models.Category, error) {
	cat, err := h.catalog.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat.VenueID != venueID {
		return nil, errors.NewNotFoundError("category", id)
	}
	return cat, nil
}

func (h *CustomerMenu) selectCategory(ctx context.Context, req *Request) (*Response, error) {
	venueID, categoryID := barID(req), str(req.Fields, "category_id")
	if venueID == "" {
		return nil, errors.NewValidationError("Missing bar id")
	}
	if categoryID == "" {
		return nil, errors.NewValidationError("Missing category")
	}
	cat, err := h.venueCategory(ctx, venueID, categoryID)
	if err != nil {
		return nil, err
	}
	subs, err := h.catalog.Subcategories(ctx, cat.ID)
	if err != nil {
		return nil, err
	}
	if len(subs) > 0 {
		return &Response{
			NextScreenID: ScreenSubcategories,
			Data: map[string]interface{}{
				"bar_id":        venueID,
				"category_id":   cat.ID,
				"category_name": cat.Name,
				"subcategories": options(subs),
			},
		}, nil
	}
	return h.itemsPage(ctx, venueID, cat, nil, 0)
}

func (h *CustomerMenu) listItems(ctx context.Context, req *Request, offset int) (*Response, error) {
	venueID, categoryID := barID(req), str(req.Fields, "category_id")
	if venueID == "" || categoryID == "" {
		return nil, errors.NewValidationError("Missing bar or category")
	}
	cat, err := h.venueCategory(ctx, venueID, categoryID)
	if err != nil {
		return nil, err
	}
	var sub *models.Category
	if id := str(req.Fields, "subcategory_id"); id != "" {
		sub, err = h.venueCategory(ctx, venueID, id)
		if err != nil {
			return nil, err
		}
		if sub.ParentID != cat.ID {
			return nil, errors.NewNotFoundError("subcategory", id)
		}
	}
	return h.itemsPage(ctx, venueID, cat, sub, offset)
}

// itemsPage lists orderable items of the subcategory when given, else of the category.
func (h *CustomerMenu) itemsPage(ctx context.Context, venueID string, cat, sub *models.Category, offset int) (*Response, error) {
	target := cat.ID
	var subID interface{}
	subName := ""
	if sub != nil {
		target, subID, subName = sub.ID, sub.ID, sub.Name
	}
	items, more, err := h.catalog.AvailableItems(ctx, venueID, target, offset, PageSize)
	if err != nil {
		return nil, err
	}
	cur := h.currency(ctx, venueID)
	rows := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		c := it.Currency
		if c == "" {
			c = cur
		}
		rows = append(rows, map[string]interface{}{
			"id":          it.ID,
			"title":       fmt.Sprintf("%s — %s", it.Name, models.FormatMoney(it.PriceMinor, c)),
			"description": it.Description,
		})
	}
	next, prev := pageTokens(offset, more)
	resp := &Response{
		NextScreenID: ScreenItems,
		Data: map[string]interface{}{
			"bar_id":           venueID,
			"category_id":      cat.ID,
			"category_name":    cat.Name,
			"subcategory_id":   subID,
			"subcategory_name": subName,
			"items":            rows,
			"page_token_next":  next,
			"page_token_prev":  prev,
		},
	}
	if len(rows) == 0 {
		resp.Messages = []Message{{Level: LevelInfo, Text: "No items available yet."}}
	}
	return resp, nil
}

func requirement(m models.Modifier) string {
	switch {
	case m.Required && m.Type == models.ModifierSingle:
		return "Required"
	case m.Required:
		return "Required, multiple allowed"
	case m.Type == models.ModifierSingle:
		return "Optional"
	}
	return "Optional, multiple allowed"
}

func modifierInfo(m models.Modifier) string {
	switch {
	case m.Required && m.Type == models.ModifierSingle:
		return m.Name + ": choose 1 option (required)."
	case m.Required:
		return m.Name + ": choose at least 1 option (required)."
	case m.Type == models.ModifierSingle:
		return m.Name + ": optional (choose up to 1)."
	}
	return m.Name + ": optional (choose any)."
}

func (h *CustomerMenu) itemDetail(ctx context.Context, itemID string) (*Response, error) {
	if itemID == "" {
		return nil, errors.NewValidationError("Missing item id")
	}
	it, err := h.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	cur := it.Currency
	if cur == "" {
		cur = h.currency(ctx, it.VenueID)
	}
	var (
		opts []map[string]interface{}
		info []string
	)
	for _, m := range it.Modifiers {
		for _, o := range m.Options {
			delta := ""
			if o.PriceDeltaMinor != 0 {
				delta = " (+" + models.FormatMoney(o.PriceDeltaMinor, cur) + ")"
			}
			opts = append(opts, map[string]interface{}{
				"id":          m.ID + ":" + o.ID,
				"title":       fmt.Sprintf("%s — %s%s", m.Name, o.Name, delta),
				"description": requirement(m),
			})
		}
		info = append(info, modifierInfo(m))
	}
	if opts == nil {
		opts = []map[string]interface{}{}
	}
	return &Response{
		NextScreenID: ScreenItemDetail,
		Data: map[string]interface{}{
			"bar_id":                 it.VenueID,
			"item_id":                it.ID,
			"item_name":              it.Name,
			"item_description":       it.Description,
			"item_price":             models.FormatMoney(it.PriceMinor, cur),
			"modifier_options":       opts,
			"modifier_options_count": len(opts),
			"modifier_info_text":     strings.Join(info, "\n"),
		},
	}, nil
}

func (h *CustomerMenu) openItem(ctx context.Context, req *Request) (*Response, error) {
	return h.itemDetail(ctx, str(req.Fields, "item_id"))
}

func (h *CustomerMenu) addToCart(ctx context.Context, req *Request) (*Response, error) {
	venueID, itemID := barID(req), str(req.Fields, "item_id")
	if venueID == "" || itemID == "" || req.WaID == "" {
		return nil, errors.NewValidationError("Missing bar/item")
	}
	qty := integer(req.Fields, "qty", 1)
	if qty < 1 {
		qty = 1
	}
	item, err := h.catalog.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.VenueID != venueID || !item.IsAvailable {
		return nil, errors.NewValidationError("Item unavailable")
	}

	mods, err := commerce.ApplyModifiers(item, commerce.ParseSelection(req.Fields["modifier_ids"]))
	if err != nil {
		if errors.KindOf(err) != errors.KindValidation {
			return nil, err
		}
		// Reopen the item so the customer can fix the selection.
		detail, derr := h.itemDetail(ctx, itemID)
		if derr != nil {
			return nil, derr
		}
		detail.Messages = append(detail.Messages, Message{Level: LevelError, Text: errors.UserMessage(err)})
		return detail, nil
	}

	cart, err := h.carts.OpenCart(ctx, req.WaID, venueID)
	if err != nil {
		return nil, err
	}
	if _, _, err := h.carts.UpsertCartLine(ctx, cart.ID, item, mods, qty); err != nil {
		return nil, err
	}

	cat, sub, err := h.itemCategory(ctx, item)
	if err != nil {
		return nil, err
	}
	label := ""
	if len(mods) > 0 {
		label = " (" + commerce.DescribeSnapshots(mods) + ")"
	}
	added := Message{Level: LevelInfo, Text: fmt.Sprintf("Added %dx %s%s to cart.", qty, item.Name, label)}
	if cat == nil {
		return &Response{NextScreenID: ScreenItems, Messages: []Message{added}}, nil
	}
	resp, err := h.itemsPage(ctx, venueID, cat, sub, 0)
	if err != nil {
		return nil, err
	}
	resp.Messages = append([]Message{added}, resp.Messages...)
	return resp, nil
}

// itemCategory resolves where the item is listed: its category, or its parent plus the
// category as subcategory.
func (h *CustomerMenu) itemCategory(ctx context.Context, item *models.MenuItem) (cat, sub *models.Category, err error) {
	if item.CategoryID == "" {
		return nil, nil, nil
	}
	c, err := h.catalog.GetCategory(ctx, item.CategoryID)
	if err != nil {
		return nil, nil, err
	}
	if c.ParentID == "" {
		return c, nil, nil
	}
	parent, err := h.catalog.GetCategory(ctx, c.ParentID)
	if err != nil {
		return nil, nil, err
	}
	return parent, c, nil
}

// ownCart loads the cart named in fields and checks the requester owns it.
func (h *CustomerMenu) ownCart(ctx context.Context, req *Request) (*models.Cart, error) {
	cartID := str(req.Fields, "cart_id")
	if cartID == "" {
		return nil, errors.NewValidationError("Missing cart")
	}
	cart, err := h.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.SubjectID != req.WaID {
		return nil, errors.NewNotFoundError("cart", cartID)
	}
	return cart, nil
}

func (h *CustomerMenu) cartView(ctx context.Context, cart *models.Cart, totals *models.Totals) (*Response, error) {
	lines, err := h.carts.CartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cur := h.currency(ctx, cart.VenueID)
	summary := make([]string, 0, len(lines))
	for _, l := range lines {
		s := fmt.Sprintf("%d× %s", l.Qty, l.NameSnapshot)
		if len(l.ModifiersSnapshot) > 0 {
			s += " (" + commerce.DescribeSnapshots(l.ModifiersSnapshot) + ")"
		}
		summary = append(summary, s+" — "+models.FormatMoney(l.LineTotalMinor, cur))
	}
	text := strings.Join(summary, "\n")
	if text == "" {
		text = "Cart is empty"
	}
	subtotal := models.FormatMoney(totals.SubtotalMinor, cur)
	service := models.FormatMoney(totals.ServiceChargeMinor, cur)
	total := models.FormatMoney(totals.TotalMinor, cur)
	return &Response{
		NextScreenID: ScreenCartView,
		Data: map[string]interface{}{
			"bar_id":            cart.VenueID,
			"cart_id":           cart.ID,
			"cart_summary_text": text,
			"subtotal":          subtotal,
			"service_charge":    service,
			"total":             total,
			"is_empty":          len(lines) == 0,
			"totals_text":       fmt.Sprintf("Subtotal: %s\nService: %s\nTotal: %s", subtotal, service, total),
		},
	}, nil
}

func (h *CustomerMenu) viewCart(ctx context.Context, req *Request) (*Response, error) {
	venueID := barID(req)
	if venueID == "" || req.WaID == "" {
		return nil, errors.NewValidationError("Missing context")
	}
	cart, err := h.carts.OpenCart(ctx, req.WaID, venueID)
	if err != nil {
		return nil, err
	}
	totals, err := h.carts.RepriceCart(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	return h.cartView(ctx, cart, totals)
}

func (h *CustomerMenu) editCart(ctx context.Context, req *Request) (*Response, error) {
	cart, err := h.ownCart(ctx, req)
	if err != nil {
		return nil, err
	}
	lines, err := h.carts.CartLines(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]interface{}, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, map[string]interface{}{"id": l.ID, "title": fmt.Sprintf("%s (%d)", l.NameSnapshot, l.Qty)})
	}
	return &Response{
		NextScreenID: ScreenCartEdit,
		Data:         map[string]interface{}{"bar_id": cart.VenueID, "cart_id": cart.ID, "lines": rows},
	}, nil
}

func (h *CustomerMenu) updateLine(ctx context.Context, req *Request) (*Response, error) {
	lineID := str(req.Fields, "line_id")
	if lineID == "" {
		return nil, errors.NewValidationError("Missing parameters")
	}
	cart, err := h.ownCart(ctx, req)
	if err != nil {
		return nil, err
	}
	totals, err := h.carts.UpdateLineQty(ctx, cart.ID, lineID, integer(req.Fields, "new_qty", 0))
	if err != nil {
		return nil, err
	}
	return h.cartView(ctx, cart, totals)
}

func (h *CustomerMenu) placeOrder(ctx context.Context, req *Request) (*Response, error) {
	if req.WaID == "" {
		return nil, errors.NewValidationError("Missing context")
	}
	cart, err := h.ownCart(ctx, req)
	if err != nil {
		return nil, err
	}
	placed, err := h.carts.PlaceOrder(ctx, cart.ID, req.WaID, commerce.PlaceOptions{
		TableLabel: str(req.Fields, "table_label"),
		Note:       str(req.Fields, "note"),
	})
	if err != nil {
		return nil, err
	}
	o := placed.Order
	h.logger.Info("order placed", map[string]interface{}{"orderId": o.ID, "venueId": o.VenueID, "total": o.TotalMinor})

	data := map[string]interface{}{
		"order_id":        o.ID,
		"order_code":      o.Code,
		"total_formatted": models.FormatMoney(o.TotalMinor, o.Currency),
		"has_payment":     placed.Payment != nil,
		"ussd_code_text":  "",
		"ussd_uri":        "",
	}
	if placed.Payment != nil {
		data["ussd_code_text"] = placed.Payment.USSD
		data["ussd_uri"] = placed.Payment.URI
	}
	return &Response{NextScreenID: ScreenPayment, Data: data}, nil
}

func (h *CustomerMenu) customerPaid(ctx context.Context, req *Request) (*Response, error) {
	orderID := str(req.Fields, "order_id")
	if orderID == "" {
		return nil, errors.NewValidationError("Missing order id")
	}
	o, err := h.carts.CustomerPaidSignal(ctx, orderID, req.WaID)
	if err != nil {
		return nil, err
	}
	return &Response{
		NextScreenID: ScreenOrderStatus,
		Data:         map[string]interface{}{"order_id": o.ID, "order_code": o.Code, "status": string(o.Status)},
		Messages:     []Message{{Level: LevelInfo, Text: "Payment acknowledged. Waiting for bar confirmation."}},
	}, nil
}

func (h *CustomerMenu) viewStatus(ctx context.Context, req *Request) (*Response, error) {
	orderID := str(req.Fields, "order_id")
	if orderID == "" {
		return nil, errors.NewValidationError("Missing order")
	}
	o, err := h.carts.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.SubjectID != req.WaID {
		return nil, errors.NewNotFoundError("order", orderID)
	}
	events, err := h.carts.Timeline(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &Response{
		NextScreenID: ScreenOrderStatus,
		Data: map[string]interface{}{
			"order_id":      o.ID,
			"order_code":    o.Code,
			"status":        string(o.Status),
			"timeline_text": commerce.TimelineText(events),
		},
	}, nil
}
