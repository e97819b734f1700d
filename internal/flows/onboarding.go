package flows

import (
	"context"
	"fmt"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/state"
	"dinein-commerce/internal/venues"
)

const (
	cmdSkip    = "skip"
	cmdDone    = "done"
	cmdPublish = "publish"
)

func onboardingData(st *models.ConversationState) models.OnboardingData {
	if d, ok := st.Data.(models.OnboardingData); ok {
		return d
	}
	return models.OnboardingData{}
}

func (e *Engine) onboardingSteps() []Step {
	return []Step{
		{
			Key: models.StateOnboardIdentity,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{text("🏷️ What's the name of your bar or restaurant?")}, nil
			},
			Handle: e.handleIdentity,
		},
		{
			Key: models.StateOnboardLocation,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{text("📍 Share the bar's location (📎 → Location), or type its address.")}, nil
			},
			Handle: e.handleLocation,
		},
		{
			Key: models.StateOnboardPayment,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{buttons("💳 Send your MoMo merchant code or MoMo number so customers can pay.",
					Option{ID: cmdSkip, Title: "Skip for now"})}, nil
			},
			Handle: e.handlePayment,
		},
		{
			Key: models.StateOnboardContacts,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{buttons("📞 Which WhatsApp numbers should receive orders? Send them separated by commas.",
					Option{ID: cmdSkip, Title: "Only this number"})}, nil
			},
			Handle: e.handleContacts,
		},
		{
			Key: models.StateOnboardMenuUpload,
			Prompt: func(_ context.Context, st *models.ConversationState) ([]Reply, error) {
				if n := onboardingData(st).Uploads; n > 0 {
					return []Reply{buttons(fmt.Sprintf("📄 %d file(s) received. Send more pages or tap Done.", n),
						Option{ID: cmdDone, Title: "Done"})}, nil
				}
				return []Reply{buttons("📄 Send a photo or PDF of your menu.", Option{ID: cmdSkip, Title: "Later"})}, nil
			},
			Handle: e.handleMenuUpload,
		},
		{
			Key:    models.StateOnboardPublish,
			Prompt: e.promptPublish,
			Handle: e.handlePublish,
		},
	}
}

func (e *Engine) startOnboarding(_ context.Context, st *models.ConversationState) (*Result, error) {
	return moveTo(state.Advance(st, models.StateOnboardIdentity, models.OnboardingData{})), nil
}

func (e *Engine) handleIdentity(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	name := strings.TrimSpace(in.Text)
	if len([]rune(name)) < 2 {
		return nil, errors.NewValidationError("Bar name required.")
	}
	d := onboardingData(st)
	if d.VenueID == "" {
		slug := venues.Slug(name)
		similar, err := e.directory.FindSimilar(ctx, slug, name)
		if err != nil {
			return nil, err
		}
		for _, v := range similar {
			if v.Slug == slug {
				return nil, errors.NewValidationError(fmt.Sprintf(
					"%s is already listed. Send a different name, or ask its manager to invite your number.", v.Name))
			}
		}
	}
	d.Name = name
	return moveTo(state.Advance(st, models.StateOnboardLocation, d)), nil
}

func (e *Engine) handleLocation(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := onboardingData(st)
	switch {
	case in.Location != nil:
		lat, lon := in.Location.Latitude, in.Location.Longitude
		d.Latitude, d.Longitude = &lat, &lon
		d.LocationText = strings.TrimSpace(in.Location.Address)
		if d.LocationText == "" {
			d.LocationText = strings.TrimSpace(in.Location.Name)
		}
	case len(strings.TrimSpace(in.Text)) >= 3:
		d.LocationText = strings.TrimSpace(in.Text)
	default:
		return nil, errors.NewValidationError("Share a location pin or type the address.")
	}

	if d.VenueID == "" {
		v := &models.Venue{Name: d.Name, LocationText: d.LocationText, Country: d.Country, CityArea: d.CityArea}
		if err := e.directory.CreateVenue(ctx, v, st.SubjectID); err != nil {
			return nil, err
		}
		d.VenueID = v.ID
		if err := e.directory.UpsertSession(ctx, st.SubjectID, v.ID, models.RoleManager); err != nil {
			return nil, err
		}
		if _, err := e.directory.AddNumbers(ctx, v.ID, []string{st.SubjectID}, models.RoleManager); err != nil {
			return nil, err
		}
	}
	if d.Latitude != nil && d.Longitude != nil {
		if err := e.directory.SetLocation(ctx, d.VenueID, *d.Latitude, *d.Longitude); err != nil {
			return nil, err
		}
	}
	return moveTo(state.Advance(st, models.StateOnboardPayment, d), text("✅ "+d.Name+" saved.")), nil
}

func (e *Engine) handlePayment(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := onboardingData(st)
	if in.Command() == cmdSkip {
		return moveTo(state.Advance(st, models.StateOnboardContacts, d)), nil
	}
	code, err := venues.NormalizeMomo(in.Text)
	if err != nil {
		return nil, err
	}
	if err := e.directory.SetMomoCode(ctx, d.VenueID, code); err != nil {
		return nil, err
	}
	d.MomoCode = code
	return moveTo(state.Advance(st, models.StateOnboardContacts, d)), nil
}

func (e *Engine) handleContacts(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := onboardingData(st)
	if in.Command() == cmdSkip {
		return moveTo(state.Advance(st, models.StateOnboardMenuUpload, d)), nil
	}
	numbers, bad := venues.ParseNumbers(in.Text)
	if len(bad) > 0 {
		return nil, errors.NewValidationError("These numbers look wrong: " + strings.Join(bad, ", "))
	}
	if len(numbers) == 0 {
		return nil, errors.NewValidationError("Numbers required.")
	}
	added, err := e.directory.AddNumbers(ctx, d.VenueID, numbers, models.RoleManager)
	if err != nil {
		return nil, err
	}
	d.Contacts = numbers
	return moveTo(state.Advance(st, models.StateOnboardMenuUpload, d),
		text(fmt.Sprintf("✅ Contacts saved (%d new).", added))), nil
}

func (e *Engine) handleMenuUpload(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := onboardingData(st)
	if in.MediaID != "" {
		count, err := e.catalog.RecordUpload(ctx, &models.MenuUpload{
			VenueID:    d.VenueID,
			MediaID:    in.MediaID,
			MimeType:   in.MimeType,
			UploadedBy: st.SubjectID,
		})
		if err != nil {
			return nil, err
		}
		d.Uploads = count
		return moveTo(same(st, d)), nil
	}
	switch in.Command() {
	case cmdDone, cmdSkip:
		return moveTo(state.Advance(st, models.StateOnboardPublish, d)), nil
	}
	return nil, errors.NewValidationError("Send the menu as a photo or PDF.")
}

func (e *Engine) promptPublish(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	d := onboardingData(st)
	cats, items, err := e.catalog.DraftCounts(ctx, d.VenueID)
	if err != nil {
		return nil, err
	}
	if items == 0 {
		return []Reply{buttons("⏳ We're reading your menu. We'll message you when the draft is ready, then tap Publish.",
			Option{ID: cmdPublish, Title: "Publish"}, Option{ID: IDHome, Title: "Home"})}, nil
	}
	return []Reply{buttons(fmt.Sprintf("📋 Draft ready: %d categories, %d items. Publish to go live?", cats, items),
		Option{ID: cmdPublish, Title: "Publish"}, Option{ID: cmdReview, Title: "Review first"})}, nil
}

func (e *Engine) handlePublish(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	if in.Command() != cmdPublish {
		return stay(), nil
	}
	d := onboardingData(st)
	menu, err := e.catalog.PublishDraft(ctx, d.VenueID)
	if errors.KindOf(err) == errors.KindNotFound {
		return nil, errors.NewValidationError("No draft menu yet. We'll message you when it's ready.")
	}
	if err != nil {
		return nil, err
	}
	e.index(ctx, d.VenueID)

	home := &models.ConversationState{SubjectID: st.SubjectID, Key: models.StateHome, Data: models.HomeData{VenueID: d.VenueID}}
	return moveTo(home, text(fmt.Sprintf("🎉 Version %d published. You're live!", menu.Version))), nil
}

// index pushes the venue to search. Failures are logged; discovery falls back to SQL.
func (e *Engine) index(ctx context.Context, venueID string) {
	if e.indexer == nil {
		return
	}
	v, err := e.directory.GetVenue(ctx, venueID)
	if err == nil {
		err = e.indexer.IndexVenue(ctx, v)
	}
	if err != nil {
		e.logger.Warn("venue indexing failed", map[string]interface{}{"venueId": venueID, "error": err.Error()})
	}
}
