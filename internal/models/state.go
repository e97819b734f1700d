// internal/models/state.go
package models

import "time"

// StateKey names a conversation screen. The set is closed: every key is declared below.
type StateKey string

const (
	StateHome StateKey = "home"

	StateOnboardIdentity   StateKey = "onboard_identity"
	StateOnboardLocation   StateKey = "onboard_location"
	StateOnboardPayment    StateKey = "onboard_payment"
	StateOnboardContacts   StateKey = "onboard_contacts"
	StateOnboardMenuUpload StateKey = "onboard_menu_upload"
	StateOnboardPublish    StateKey = "onboard_publish"

	StateReviewList      StateKey = "review_list"
	StateReviewItem      StateKey = "review_item"
	StateReviewEditPrice StateKey = "review_edit_price"
	StateReviewEditName  StateKey = "review_edit_name"

	StateNumbersList StateKey = "numbers_list"
	StateNumbersAdd  StateKey = "numbers_add"
	StateNumbersItem StateKey = "numbers_item"

	StateDiscoveryLocation StateKey = "discovery_location"
	StateDiscoveryResults  StateKey = "discovery_results"
	StateDiscoveryVenue    StateKey = "discovery_venue"

	StateOrdersList   StateKey = "orders_list"
	StateOrdersDetail StateKey = "orders_detail"
)

// FlowKind groups state keys that share a data variant.
type FlowKind string

const (
	FlowHome       FlowKind = "home"
	FlowOnboarding FlowKind = "onboarding"
	FlowReview     FlowKind = "review"
	FlowNumbers    FlowKind = "numbers"
	FlowDiscovery  FlowKind = "discovery"
	FlowOrders     FlowKind = "orders"
)

type stateMeta struct {
	flow  FlowKind
	prior StateKey
}

var stateTable = map[StateKey]stateMeta{
	StateHome: {FlowHome, ""},

	StateOnboardIdentity:   {FlowOnboarding, StateHome},
	StateOnboardLocation:   {FlowOnboarding, StateOnboardIdentity},
	StateOnboardPayment:    {FlowOnboarding, StateOnboardLocation},
	StateOnboardContacts:   {FlowOnboarding, StateOnboardPayment},
	StateOnboardMenuUpload: {FlowOnboarding, StateOnboardContacts},
	StateOnboardPublish:    {FlowOnboarding, StateOnboardMenuUpload},

	StateReviewList:      {FlowReview, StateHome},
	StateReviewItem:      {FlowReview, StateReviewList},
	StateReviewEditPrice: {FlowReview, StateReviewItem},
	StateReviewEditName:  {FlowReview, StateReviewItem},

	StateNumbersList: {FlowNumbers, StateHome},
	StateNumbersAdd:  {FlowNumbers, StateNumbersList},
	StateNumbersItem: {FlowNumbers, StateNumbersList},

	StateDiscoveryLocation: {FlowDiscovery, StateHome},
	StateDiscoveryResults:  {FlowDiscovery, StateDiscoveryLocation},
	StateDiscoveryVenue:    {FlowDiscovery, StateDiscoveryResults},

	StateOrdersList:   {FlowOrders, StateHome},
	StateOrdersDetail: {FlowOrders, StateOrdersList},
}

// Valid reports whether k is a declared key.
func (k StateKey) Valid() bool {
	_, ok := stateTable[k]
	return ok
}

// Prior is the statically declared predecessor. Home has none.
func (k StateKey) Prior() (StateKey, bool) {
	meta, ok := stateTable[k]
	if !ok || meta.prior == "" {
		return "", false
	}
	return meta.prior, true
}

// Flow returns the data variant family of the key; unknown keys map to home.
func (k StateKey) Flow() FlowKind {
	if meta, ok := stateTable[k]; ok {
		return meta.flow
	}
	return FlowHome
}

// StateKeys lists every declared key.
func StateKeys() []StateKey {
	keys := make([]StateKey, 0, len(stateTable))
	for k := range stateTable {
		keys = append(keys, k)
	}
	return keys
}

// ConversationState is the persisted per-subject position in a flow.
type ConversationState struct {
	SubjectID string
	Key       StateKey
	Data      StateData
	Back      StateKey
	UpdatedAt time.Time
}

// StateData is implemented by exactly one variant per FlowKind.
type StateData interface {
	Flow() FlowKind
}

type HomeData struct {
	VenueID string `json:"venue_id,omitempty"`
}

type OnboardingData struct {
	VenueID      string   `json:"venue_id,omitempty"`
	Name         string   `json:"name,omitempty"`
	LocationText string   `json:"location_text,omitempty"`
	Country      string   `json:"country,omitempty"`
	CityArea     string   `json:"city_area,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	MomoCode     string   `json:"momo_code,omitempty"`
	Contacts     []string `json:"contacts,omitempty"`
	Uploads      int      `json:"uploads,omitempty"`
}

type ReviewData struct {
	VenueID string `json:"venue_id"`
	MenuID  string `json:"menu_id,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
}

type NumbersData struct {
	VenueID  string `json:"venue_id"`
	Offset   int    `json:"offset,omitempty"`
	NumberID string `json:"number_id,omitempty"`
}

type DiscoveryData struct {
	Latitude  float64  `json:"latitude,omitempty"`
	Longitude float64  `json:"longitude,omitempty"`
	Offset    int      `json:"offset,omitempty"`
	VenueIDs  []string `json:"venue_ids,omitempty"`
	VenueID   string   `json:"venue_id,omitempty"`
}

type OrdersData struct {
	VenueID string `json:"venue_id"`
	Status  string `json:"status,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	OrderID string `json:"order_id,omitempty"`
}

func (HomeData) Flow() FlowKind       { return FlowHome }
func (OnboardingData) Flow() FlowKind { return FlowOnboarding }
func (ReviewData) Flow() FlowKind     { return FlowReview }
func (NumbersData) Flow() FlowKind    { return FlowNumbers }
func (DiscoveryData) Flow() FlowKind  { return FlowDiscovery }
func (OrdersData) Flow() FlowKind     { return FlowOrders }
