package flows

import (
	"context"
	"fmt"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/common/logger"
	"dinein-commerce/internal/models"
	"dinein-commerce/internal/staff"
	"dinein-commerce/internal/state"
	"dinein-commerce/internal/venues"
)

// Directory is the venue data the flows read and write.
type Directory interface {
	GetVenue(ctx context.Context, id string) (*models.Venue, error)
	FindSimilar(ctx context.Context, slug, name string) ([]models.Venue, error)
	CreateVenue(ctx context.Context, v *models.Venue, createdBy string) error
	SetLocation(ctx context.Context, id string, lat, lon float64) error
	SetMomoCode(ctx context.Context, id, code string) error
	AddNumbers(ctx context.Context, venueID string, numbers []string, role models.StaffRole) (int, error)
	ListNumbers(ctx context.Context, venueID string, offset, limit int) ([]models.VenueNumber, error)
	GetNumber(ctx context.Context, id string) (*models.VenueNumber, error)
	DeactivateNumber(ctx context.Context, id string) error
	UpsertSession(ctx context.Context, number, venueID string, role models.StaffRole) error
	Sessions(ctx context.Context, number string) ([]models.StaffSession, error)
}

// Catalog is the menu data used by onboarding and review.
type Catalog interface {
	LatestMenu(ctx context.Context, venueID string) (*models.Menu, error)
	MenuItems(ctx context.Context, menuID string, offset, limit int) ([]models.MenuItem, bool, error)
	GetItem(ctx context.Context, id string) (*models.MenuItem, error)
	UpdateItemPrice(ctx context.Context, id string, priceMinor int64) error
	RenameItem(ctx context.Context, id, name string) error
	ToggleItem(ctx context.Context, id string) (bool, error)
	DraftCounts(ctx context.Context, venueID string) (categories, items int, err error)
	PublishDraft(ctx context.Context, venueID string) (*models.Menu, error)
	RecordUpload(ctx context.Context, u *models.MenuUpload) (int, error)
}

// Orders is the part of the order engine vendors drive from chat.
type Orders interface {
	ListVenueOrders(ctx context.Context, venueID string, status models.OrderStatus, offset, limit int) ([]models.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	OrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID string, to models.OrderStatus, actor models.ActorType, note string) (*models.Order, error)
}

// Staff issues and verifies invites.
type Staff interface {
	InviteStaff(ctx context.Context, venueID, number string, role models.StaffRole) (*models.VenueNumber, error)
	VerifyCode(ctx context.Context, number, code string) (*models.StaffSession, error)
}

// Step is one screen of a conversation. Prompt renders it; Handle consumes input on it.
type Step struct {
	Key    models.StateKey
	Prompt func(ctx context.Context, st *models.ConversationState) ([]Reply, error)
	Handle func(ctx context.Context, st *models.ConversationState, in Input) (*Result, error)
}

// Result of handling input. A nil Next keeps the subject on the current step and re-renders it.
type Result struct {
	Next    *models.ConversationState
	Replies []Reply
}

func stay(replies ...Reply) *Result { return &Result{Replies: replies} }

func moveTo(next *models.ConversationState, replies ...Reply) *Result {
	return &Result{Next: next, Replies: replies}
}

// same keeps the key and back pointer but swaps the data, e.g. to change the page offset.
func same(st *models.ConversationState, data models.StateData) *models.ConversationState {
	return &models.ConversationState{SubjectID: st.SubjectID, Key: st.Key, Data: data, Back: st.Back}
}

// Engine routes inbound messages to the step the subject is on.
type Engine struct {
	store     state.Store
	directory Directory
	catalog   Catalog
	orders    Orders
	staff     Staff
	finder    venues.Finder
	indexer   venues.Indexer
	steps     map[models.StateKey]Step
	starters  map[string]func(ctx context.Context, st *models.ConversationState) (*Result, error)
	logger    logger.Logger
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithIndexer indexes venues in search when their menu is published.
func WithIndexer(ix venues.Indexer) EngineOption { return func(e *Engine) { e.indexer = ix } }

func NewEngine(store state.Store, directory Directory, catalog Catalog, orders Orders, staff Staff,
	finder venues.Finder, log logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		directory: directory,
		catalog:   catalog,
		orders:    orders,
		staff:     staff,
		finder:    finder,
		steps:     make(map[models.StateKey]Step),
		logger:    log.WithFields(map[string]interface{}{"component": "flows"}),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, s := range [][]Step{e.homeSteps(), e.onboardingSteps(), e.reviewSteps(), e.numbersSteps(),
		e.discoverySteps(), e.ordersSteps()} {
		for _, step := range s {
			e.steps[step.Key] = step
		}
	}
	e.starters = map[string]func(context.Context, *models.ConversationState) (*Result, error){
		cmdDiscover: e.startDiscovery,
		cmdOnboard:  e.startOnboarding,
		cmdReview:   e.startReview,
		cmdNumbers:  e.startNumbers,
		cmdOrders:   e.startOrders,
	}
	return e
}

// Steps exposes the registered screens.
func (e *Engine) Steps() map[models.StateKey]Step { return e.steps }

// Handle processes one inbound message and returns the replies to send back.
// Domain failures become a message plus a re-prompt; infrastructure failures are returned.
func (e *Engine) Handle(ctx context.Context, in Input) ([]Reply, error) {
	st, err := e.store.Get(ctx, in.SubjectID)
	if err != nil {
		return nil, err
	}

	if code, ok := staff.ParseCodeMessage(in.Text); ok {
		return e.verifyStaff(ctx, st, code)
	}

	cmd := in.Command()
	switch cmd {
	case IDBack:
		return e.enter(ctx, state.Back(st))
	case IDHome:
		return e.Home(ctx, in.SubjectID)
	}
	if start, ok := e.starters[cmd]; ok && (in.ReplyID != "" || st.Key == models.StateHome) {
		return e.apply(ctx, st, func() (*Result, error) { return start(ctx, st) })
	}

	step, ok := e.steps[st.Key]
	if !ok {
		e.logger.Warn("no step for state, resetting", map[string]interface{}{"key": st.Key})
		return e.Home(ctx, in.SubjectID)
	}
	return e.apply(ctx, st, func() (*Result, error) { return step.Handle(ctx, st, in) })
}

// Reset drops the subject's conversation state without replying.
func (e *Engine) Reset(ctx context.Context, subjectID string) error {
	return e.store.Clear(ctx, subjectID)
}

// Home clears the subject's conversation and shows the home screen.
func (e *Engine) Home(ctx context.Context, subjectID string) ([]Reply, error) {
	if err := e.store.Clear(ctx, subjectID); err != nil {
		return nil, err
	}
	return e.render(ctx, state.Home(subjectID))
}

func (e *Engine) apply(ctx context.Context, st *models.ConversationState, fn func() (*Result, error)) ([]Reply, error) {
	res, err := fn()
	if err != nil {
		if !userFacing(err) {
			return nil, err
		}
		e.logger.Info("step rejected input", map[string]interface{}{
			"key":     st.Key,
			"subject": logger.MaskPhone(st.SubjectID),
			"kind":    errors.KindOf(err),
		})
		prompt, perr := e.render(ctx, st)
		if perr != nil {
			return nil, perr
		}
		return append([]Reply{text(errors.UserMessage(err))}, prompt...), nil
	}

	next := res.Next
	if next == nil {
		next = st
	} else if err := e.store.Set(ctx, next); err != nil {
		return nil, err
	}
	prompt, err := e.render(ctx, next)
	if err != nil {
		return nil, err
	}
	return append(res.Replies, prompt...), nil
}

// enter saves st and renders it.
func (e *Engine) enter(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	if err := e.store.Set(ctx, st); err != nil {
		return nil, err
	}
	return e.render(ctx, st)
}

// render prompts for st. A screen whose data vanished sends the subject home with a note.
func (e *Engine) render(ctx context.Context, st *models.ConversationState) ([]Reply, error) {
	step, ok := e.steps[st.Key]
	if !ok {
		return nil, fmt.Errorf("no step registered for %q", st.Key)
	}
	replies, err := step.Prompt(ctx, st)
	if err == nil {
		return replies, nil
	}
	if !userFacing(err) || st.Key == models.StateHome {
		return nil, err
	}
	e.logger.Warn("screen unavailable, returning home", map[string]interface{}{"key": st.Key, "error": err.Error()})
	if err := e.store.Clear(ctx, st.SubjectID); err != nil {
		return nil, err
	}
	home, herr := e.render(ctx, state.Home(st.SubjectID))
	if herr != nil {
		return nil, herr
	}
	return append([]Reply{text(errors.UserMessage(err))}, home...), nil
}

func userFacing(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindNotFound, errors.KindStateConflict,
		errors.KindSecurity, errors.KindPolicyBlocked:
		return true
	}
	return false
}

func (e *Engine) verifyStaff(ctx context.Context, st *models.ConversationState, code string) ([]Reply, error) {
	session, err := e.staff.VerifyCode(ctx, st.SubjectID, code)
	if err != nil {
		if errors.KindOf(err) == errors.KindSecurity {
			return []Reply{text(errors.UserMessage(err))}, nil
		}
		return nil, err
	}
	name := "your bar"
	if v, err := e.directory.GetVenue(ctx, session.VenueID); err == nil {
		name = v.Name
	}
	home := &models.ConversationState{SubjectID: st.SubjectID, Key: models.StateHome, Data: models.HomeData{VenueID: session.VenueID}}
	replies, err := e.enter(ctx, home)
	if err != nil {
		return nil, err
	}
	return append([]Reply{text(fmt.Sprintf("✅ You're verified for %s. You can now manage its orders.", name))}, replies...), nil
}
