package flows

import (
	"context"
	"fmt"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/state"
)

const (
	cmdAddNumber = "add_number"
	cmdRemove    = "remove"
)

// numbersPerPage leaves one of the page rows for "Add number".
const numbersPerPage = PageSize - 1

func numbersData(st *models.ConversationState) models.NumbersData {
	if d, ok := st.Data.(models.NumbersData); ok {
		return d
	}
	return models.NumbersData{}
}

func (e *Engine) numbersSteps() []Step {
	return []Step{
		{Key: models.StateNumbersList, Prompt: e.promptNumbersList, Handle: e.handleNumbersList},
		{
			Key: models.StateNumbersAdd,
			Prompt: func(context.Context, *models.ConversationState) ([]Reply, error) {
				return []Reply{buttons("➕ Send the WhatsApp number to invite, e.g. +250788123456.",
					Option{ID: IDBack, Title: "Cancel"})}, nil
			},
			Handle: e.handleNumbersAdd,
		},
		{Key: models.StateNumbersItem, Prompt: e.promptNumberItem, Handle: e.handleNumberItem},
	}
}

func (e *Engine) startNumbers(ctx context.Context, st *models.ConversationState) (*Result, error) {
	venueID, err := e.vendorVenue(ctx, st)
	if err != nil {
		return nil, err
	}
	return moveTo(state.Advance(st, models.StateNumbersList, models.NumbersData{VenueID: venueID})), nil
}

func (e *Engine) numbersPage(ctx context.Context, d models.NumbersData) ([]models.VenueNumber, bool, error) {
	numbers, err := e.directory.ListNumbers(ctx, d.VenueID, d.Offset, numbersPerPage+1)
	if err != nil {
		return nil, false, err
	}
	if len(numbers) > numbersPerPage {
		return numbers[:numbersPerPage], true, nil
	}
	return numbers, false, nil
}

func numberStatus(n models.VenueNumber) string {
	switch {
	case n.VerificationCodeHash != "":
		return "invite pending"
	case n.VerifiedAt != nil:
		return string(n.Role) + " · verified"
	}
	return string(n.Role)
}

func (e *Engine) promptNumbersList(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	d := numbersData(st)
	numbers, more, err := e.numbersPage(ctx, d)
	if err != nil {
		return nil, err
	}
	rows := []Option{{ID: cmdAddNumber, Title: "➕ Add number"}}
	for _, n := range numbers {
		rows = append(rows, Option{ID: rowID("number", n.ID), Title: n.NumberAddress, Description: numberStatus(n)})
	}
	return []Reply{list("WhatsApp numbers", "These numbers receive order alerts.", pageRows(rows, more))}, nil
}

func (e *Engine) handleNumbersList(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := numbersData(st)
	cmd := in.Command()
	switch cmd {
	case cmdAddNumber:
		return moveTo(state.Advance(st, models.StateNumbersAdd, d)), nil
	case IDMore:
		d.Offset += numbersPerPage
		return moveTo(same(st, d)), nil
	}
	id, ok := parseRow(cmd, "number")
	if !ok {
		return stay(), nil
	}
	d.NumberID = id
	return moveTo(state.Advance(st, models.StateNumbersItem, d)), nil
}

func (e *Engine) handleNumbersAdd(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	d := numbersData(st)
	inv, err := e.staff.InviteStaff(ctx, d.VenueID, in.Text, models.RoleStaff)
	if err != nil {
		return nil, err
	}
	list := &models.ConversationState{SubjectID: st.SubjectID, Key: models.StateNumbersList, Data: models.NumbersData{VenueID: d.VenueID}, Back: models.StateHome}
	return moveTo(list, text(fmt.Sprintf("📨 Invite sent to %s. They reply with their code to activate.", logger.MaskPhone(inv.NumberAddress)))), nil
}

func (e *Engine) promptNumberItem(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	n, err := e.directory.GetNumber(ctx, numbersData(st).NumberID)
	if err != nil {
		return nil, err
	}
	return []Reply{buttons(fmt.Sprintf("📞 %s\n%s", n.NumberAddress, numberStatus(*n)),
		Option{ID: cmdRemove, Title: "Remove"},
		Option{ID: IDBack, Title: "← Back"},
	)}, nil
}

func (e *Engine) handleNumberItem(ctx context.Context, st *models.ConversationState, in Input) (*Result, error) {
	if in.Command() != cmdRemove {
		return stay(), nil
	}
	d := numbersData(st)
	n, err := e.directory.GetNumber(ctx, d.NumberID)
	if err != nil {
		return nil, err
	}
	if n.VenueID != d.VenueID {
		return nil, errors.NewNotFoundError("number", d.NumberID)
	}
	if n.NumberAddress == st.SubjectID {
		return nil, errors.NewValidationError("You can't remove your own number.")
	}
	if err := e.directory.DeactivateNumber(ctx, n.ID); err != nil {
		return nil, err
	}
	list := &models.ConversationState{SubjectID: st.SubjectID, Key: models.StateNumbersList, Data: models.NumbersData{VenueID: d.VenueID}, Back: models.StateHome}
	return moveTo(list, text("🗑️ Number removed.")), nil
}
