package state

import (
	"encoding/json"
	"fmt"

	"dinein-commerce/internal/models"
)

// EncodeData serialises a variant for storage.
func EncodeData(data models.StateData) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

// DecodeData decodes raw into the variant that belongs to key's flow.
func DecodeData(key models.StateKey, raw []byte) (models.StateData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = []byte("{}")
	}

	var (
		out models.StateData
		err error
	)
	switch key.Flow() {
	case models.FlowOnboarding:
		var d models.OnboardingData
		err = json.Unmarshal(raw, &d)
		out = d
	case models.FlowReview:
		var d models.ReviewData
		err = json.Unmarshal(raw, &d)
		out = d
	case models.FlowNumbers:
		var d models.NumbersData
		err = json.Unmarshal(raw, &d)
		out = d
	case models.FlowDiscovery:
		var d models.DiscoveryData
		err = json.Unmarshal(raw, &d)
		out = d
	case models.FlowOrders:
		var d models.OrdersData
		err = json.Unmarshal(raw, &d)
		out = d
	default:
		var d models.HomeData
		err = json.Unmarshal(raw, &d)
		out = d
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s data: %w", key, err)
	}
	return out, nil
}

// EmptyData returns the zero variant for key.
func EmptyData(key models.StateKey) models.StateData {
	data, _ := DecodeData(key, nil)
	return data
}
