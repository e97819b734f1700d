package flows

import (
	"context"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/models"
)

// Home screen commands. They are also accepted as button ids from any screen.
const (
	cmdDiscover = "discover"
	cmdOnboard  = "onboard"
	cmdReview   = "review"
	cmdNumbers  = "numbers"
	cmdOrders   = "orders"
)

func (e *Engine) homeSteps() []Step {
	return []Step{{
		Key:    models.StateHome,
		Prompt: e.promptHome,
		Handle: e.handleHome,
	}}
}

func (e *Engine) promptHome(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	rows := []Option{{ID: cmdDiscover, Title: "Find a bar", Description: "Bars and restaurants near you"}}

	sessions, err := e.directory.Sessions(ctx, st.SubjectID)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		rows = append(rows, Option{ID: cmdOnboard, Title: "Register my bar", Description: "List your bar and menu"})
		return []Reply{list("DineIn", "👋 Welcome! What would you like to do?", rows)}, nil
	}

	venueID := activeVenue(st, sessions)
	title := "Bar manager"
	if v, err := e.directory.GetVenue(ctx, venueID); err == nil {
		title = truncate(v.Name, 24)
	}
	rows = append(rows,
		Option{ID: cmdOrders, Title: "Orders", Description: "Pending and paid orders"},
		Option{ID: cmdReview, Title: "Review menu", Description: "Prices, names, availability"},
		Option{ID: cmdNumbers, Title: "WhatsApp numbers", Description: "Who receives orders"},
		Option{ID: cmdOnboard, Title: "Register another bar"},
	)
	for _, s := range sessions {
		if s.VenueID == venueID || len(rows) >= 10 {
			continue
		}
		name := s.VenueID
		if v, err := e.directory.GetVenue(ctx, s.VenueID); err == nil {
			name = v.Name
		}
		rows = append(rows, Option{ID: rowID("venue", s.VenueID), Title: truncate("Switch to "+name, 24)})
	}
	return []Reply{list(title, "What would you like to do?", rows)}, nil
}

func (e *Engine) handleHome(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	if id, ok := parseRow(in.Command(), "venue"); ok {
		sessions, err := e.directory.Sessions(ctx, st.SubjectID)
		if err != nil {
			return nil, err
		}
		for _, s := range sessions {
			if s.VenueID == id {
				return moveTo(same(st, models.HomeData{VenueID: id})), nil
			}
		}
		return nil, errors.NewNotFoundError("venue", id)
	}
	return stay(), nil
}

// activeVenue is the venue chosen on the home screen, or the first session's venue.
func activeVenue(st *models.ConversationState, sessions []models.StaffSession) string {
	if home, ok := st.Data.(models.HomeData); ok && home.VenueID != "" {
		for _, s := range sessions {
			if s.VenueID == home.VenueID {
				return s.VenueID
			}
		}
	}
	if len(sessions) == 0 {
		return ""
	}
	return sessions[0].VenueID
}

// vendorVenue authorises vendor screens: the subject needs a session for the venue.
func (e *Engine) vendorVenue(ctx context.Context, st *models.ConversationState) (string, error) {
	sessions, err := e.directory.Sessions(ctx, st.SubjectID)
	if err != nil {
		return "", err
	}
	venueID := activeVenue(st, sessions)
	if venueID == "" {
		return "", errors.NewValidationError("Only registered bar staff can do that. Register your bar or ask your manager for an invite.")
	}
	return venueID, nil
}
