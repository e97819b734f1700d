package flows

import (
	"context"
	"fmt"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/state"
	"dinein-commerce/internal/venues"
)

// Customer menu flow opened from a venue card.
const (
	MenuFlowID     = "flow.cust.bar_menu.v1"
	MenuFlowScreen = "s_categories"
)

func discoveryData(st *models.ConversationState) models.DiscoveryData {
	if d, ok := st.Data.(models.DiscoveryData); ok {
		return d
	}
	return models.DiscoveryData{}
}

func (e *Engine) discoverySteps() []Step {
	return []Step{
		{
			Key: models.StateDiscoveryLocation,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{text("📍 Share your location (📎 → Location) and we'll list bars near you.")}, nil
			},
			Handle: e.handleDiscoveryLocation,
		},
		{Key: models.StateDiscoveryResults, Prompt: e.promptDiscoveryResults, Handle: e.handleDiscoveryResults},
		{Key: models.StateDiscoveryVenue, Prompt: e.promptDiscoveryVenue, Handle: e.handleDiscoveryVenue},
	}
}

func (e *Engine) startDiscovery(_ context.Context, st *models.ConversationState) (*Result, error) {
	return moveTo(state.Advance(st, models.StateDiscoveryLocation, models.DiscoveryData{})), nil
}

func (e *Engine) discoveryPage(ctx context.Context, d models.DiscoveryData) ([]venues.Hit, bool, error) {
	return e.finder.Nearby(ctx, d.Latitude, d.Longitude, d.Offset, PageSize)
}

func hitIDs(hits []venues.Hit) []string {
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.VenueID)
	}
	return ids
}

func (e *Engine) handleDiscoveryLocation(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	if in.Location == nil {
		return nil, errors.NewValidationError("Please share a location pin so we can find bars near you.")
	}
	d := models.DiscoveryData{Latitude: in.Location.Latitude, Longitude: in.Location.Longitude}
	hits, _, err := e.discoveryPage(ctx, d)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, errors.NewValidationError("No bars found near that spot yet. Try another location.")
	}
	d.VenueIDs = hitIDs(hits)
	return moveTo(state.Advance(st, models.StateDiscoveryResults, d)), nil
}

func (e *Engine) promptDiscoveryResults(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	hits, more, err := e.discoveryPage(ctx, discoveryData(st))
	if err != nil {
		return nil, err
	}
	rows := make([]Option, 0, len(hits)+1)
	for _, h := range hits {
		rows = append(rows, Option{
			ID:          rowID("venue", h.VenueID),
			Title:       truncate(h.Name, 24),
			Description: truncate(fmt.Sprintf("%.1f km · %s", h.DistanceKm, h.LocationText), 72),
		})
	}
	return []Reply{list("Bars near you", "🍻 Pick a bar to see its menu.", pageRows(rows, more))}, nil
}

func (e *Engine) handleDiscoveryResults(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := discoveryData(st)
	cmd := in.Command()
	if cmd == IDMore {
		d.Offset += PageSize
		hits, _, err := e.discoveryPage(ctx, d)
		if err != nil {
			return nil, err
		}
		d.VenueIDs = hitIDs(hits)
		return moveTo(same(st, d)), nil
	}
	id, ok := parseRow(cmd, "venue")
	if !ok {
		if id, ok = pick(cmd, d.VenueIDs); !ok {
			return stay(), nil
		}
	}
	d.VenueID = id
	return moveTo(state.Advance(st, models.StateDiscoveryVenue, d)), nil
}

func (e *Engine) promptDiscoveryVenue(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	v, err := e.directory.GetVenue(ctx, discoveryData(st).VenueID)
	if err != nil {
		return nil, err
	}
	body := fmt.Sprintf("*%s*", v.Name)
	if v.LocationText != "" {
		body += "\n📍 " + v.LocationText
	}
	return []Reply{
		{
			Text: body + "\n\nTap below to browse the menu and order from your table.",
			Flow: &FlowLaunch{
				FlowID: MenuFlowID,
				Screen: MenuFlowScreen,
				CTA:    "View menu",
				Data:   map[string]interface{}{"bar_id": v.ID},
			},
		},
		buttons("Looking for somewhere else?", Option{ID: IDBack, Title: "← Other bars"}, Option{ID: IDHome, Title: "Home"}),
	}, nil
}

func (e *Engine) handleDiscoveryVenue(context.Context, *models.ConversationState, Input) (*Result, error) {
	return stay(), nil
}
