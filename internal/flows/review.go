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
	cmdEditPrice = "edit_price"
	cmdEditName  = "edit_name"
	cmdToggle    = "toggle"
)

func reviewData(st *models.ConversationState) models.ReviewData {
	if d, ok := st.Data.(models.ReviewData); ok {
		return d
	}
	return models.ReviewData{}
}

func (e *Engine) reviewSteps() []Step {
	return []Step{
		{Key: models.StateReviewList, Prompt: e.promptReviewList, Handle: e.handleReviewList},
		{Key: models.StateReviewItem, Prompt: e.promptReviewItem, Handle: e.handleReviewItem},
		{
			Key: models.StateReviewEditPrice,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{buttons("💰 Send the new price (numbers only).", Option{ID: IDBack, Title: "Cancel"})}, nil
			},
			Handle: e.handleEditPrice,
		},
		{
			Key: models.StateReviewEditName,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{buttons("✏️ Send the new item name.", Option{ID: IDBack, Title: "Cancel"})}, nil
			},
			Handle: e.handleEditName,
		},
	}
}

func (e *Engine) startReview(ctx context.Context, st *models.ConversationState) (*Result, error) {
	venueID, err := e.vendorVenue(ctx, st)
	if err != nil {
		return nil, err
	}
	menu, err := e.catalog.LatestMenu(ctx, venueID)
	if errors.KindOf(err) == errors.KindNotFound {
		return nil, errors.NewValidationError("No menu yet. Upload one from Register my bar.")
	}
	if err != nil {
		return nil, err
	}
	return moveTo(state.Advance(st, models.StateReviewList, models.ReviewData{VenueID: venueID, MenuID: menu.ID})), nil
}

func (e *Engine) reviewPage(ctx context.Context, d models.ReviewData) ([]models.MenuItem, bool, error) {
	return e.catalog.MenuItems(ctx, d.MenuID, d.Offset, PageSize)
}

func (e *Engine) promptReviewList(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	d := reviewData(st)
	items, more, err := e.reviewPage(ctx, d)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []Reply{buttons("ℹ️ No menu items yet.", Option{ID: IDHome, Title: "Home"})}, nil
	}
	rows := make([]Option, 0, len(items)+1)
	for _, it := range items {
		desc := models.FormatMoney(it.PriceMinor, it.Currency)
		if !it.IsAvailable {
			desc += " · unavailable"
		}
		rows = append(rows, Option{ID: rowID("item", it.ID), Title: truncate(it.Name, 24), Description: desc})
	}
	body := fmt.Sprintf("Items %d–%d. Pick one to edit.", d.Offset+1, d.Offset+len(items))
	return []Reply{list("Menu review", body, pageRows(rows, more))}, nil
}

func (e *Engine) handleReviewList(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := reviewData(st)
	cmd := in.Command()
	if cmd == IDMore {
		d.Offset += PageSize
		return moveTo(same(st, d)), nil
	}
	id, ok := parseRow(cmd, "item")
	if !ok {
		items, _, err := e.reviewPage(ctx, d)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		if id, ok = pick(cmd, ids); !ok {
			return stay(), nil
		}
	}
	d.ItemID = id
	return moveTo(state.Advance(st, models.StateReviewItem, d)), nil
}

func (e *Engine) promptReviewItem(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	it, err := e.catalog.GetItem(ctx, reviewData(st).ItemID)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s", it.Name, models.FormatMoney(it.PriceMinor, it.Currency))
	if it.Description != "" {
		fmt.Fprintf(&b, "\n%s", it.Description)
	}
	toggle := "Mark unavailable"
	if !it.IsAvailable {
		b.WriteString("\n🚫 Currently unavailable")
		toggle = "Mark available"
	}
	return []Reply{buttons(b.String(),
		Option{ID: cmdEditPrice, Title: "Edit price"},
		Option{ID: cmdEditName, Title: "Edit name"},
		Option{ID: cmdToggle, Title: toggle},
	)}, nil
}

func (e *Engine) handleReviewItem(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := reviewData(st)
	switch in.Command() {
	case cmdEditPrice:
		return moveTo(state.Advance(st, models.StateReviewEditPrice, d)), nil
	case cmdEditName:
		return moveTo(state.Advance(st, models.StateReviewEditName, d)), nil
	case cmdToggle:
		available, err := e.catalog.ToggleItem(ctx, d.ItemID)
		if err != nil {
			return nil, err
		}
		msg := "🚫 Marked unavailable."
		if available {
			msg = "✅ Marked available."
		}
		return stay(text(msg)), nil
	}
	return stay(), nil
}

// backToItem returns to the item screen with list as its back pointer.
func backToItem(st *models.ConversationState, d models.ReviewData) *models.ConversationState {
	return &models.ConversationState{SubjectID: st.SubjectID, Key: models.StateReviewItem, Data: d, Back: models.StateReviewList}
}

func (e *Engine) handleEditPrice(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := reviewData(st)
	it, err := e.catalog.GetItem(ctx, d.ItemID)
	if err != nil {
		return nil, err
	}
	price, err := models.ParseMoney(in.Text, it.Currency)
	if err != nil || price <= 0 {
		return nil, errors.NewValidationError("Enter a valid price, e.g. 2500.")
	}
	if err := e.catalog.UpdateItemPrice(ctx, d.ItemID, price); err != nil {
		return nil, err
	}
	return moveTo(backToItem(st, d), text("✅ Price updated to "+models.FormatMoney(price, it.Currency)+".")), nil
}

func (e *Engine) handleEditName(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := reviewData(st)
	name := strings.TrimSpace(in.Text)
	if n := len([]rune(name)); n < 2 || n > 80 {
		return nil, errors.NewValidationError("Names are 2 to 80 characters.")
	}
	if err := e.catalog.RenameItem(ctx, d.ItemID, name); err != nil {
		return nil, err
	}
	return moveTo(backToItem(st, d), text("✅ Name updated to “"+name+"”.")), nil
}
