// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"dinein-commerce/internal/common/validation"
)

func LoadRegistry(path string) (*FlowRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*FlowRegistry, error) {
	var reg FlowRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return &reg, nil
}

// Flow looks up a flow by id.
func (r *FlowRegistry) Flow(id string) (*Flow, bool) {
	for i := range r.Flows {
		if r.Flows[i].ID == id {
			return &r.Flows[i], true
		}
	}
	return nil, false
}

// Action looks up an action by id.
func (f *Flow) Action(id string) (*Action, bool) {
	for i := range f.Actions {
		if f.Actions[i].ID == id {
			return &f.Actions[i], true
		}
	}
	return nil, false
}

// HasScreen reports whether the flow declares screen.
func (f *Flow) HasScreen(screen string) bool {
	for _, s := range f.Screens {
		if s == screen {
			return true
		}
	}
	return false
}

// Validate checks ids, screen references and that every fields schema compiles.
func (r *FlowRegistry) Validate() error {
	if len(r.Flows) == 0 {
		return fmt.Errorf("registry contains no flows")
	}

	seen := make(map[string]bool)
	for _, flow := range r.Flows {
		if err := validation.ValidateFlowID(flow.ID); err != nil {
			return fmt.Errorf("flow %q: %w", flow.ID, err)
		}
		if seen[flow.ID] {
			return fmt.Errorf("duplicate flow ID: %s", flow.ID)
		}
		seen[flow.ID] = true

		if flow.Audience != "customer" && flow.Audience != "vendor" {
			return fmt.Errorf("flow %s: audience must be customer or vendor", flow.ID)
		}
		if !flow.HasScreen(flow.EntryScreen) {
			return fmt.Errorf("flow %s: entry screen %q not declared", flow.ID, flow.EntryScreen)
		}

		actions := make(map[string]bool)
		for _, action := range flow.Actions {
			if action.ID == "" {
				return fmt.Errorf("flow %s: action missing id", flow.ID)
			}
			if actions[action.ID] {
				return fmt.Errorf("flow %s: duplicate action %s", flow.ID, action.ID)
			}
			actions[action.ID] = true

			for _, next := range action.NextScreens {
				if !flow.HasScreen(next) {
					return fmt.Errorf("flow %s action %s: unknown screen %q", flow.ID, action.ID, next)
				}
			}
			if action.FieldsSchema != nil {
				if _, err := validation.Compile(action.FieldsSchema); err != nil {
					return fmt.Errorf("flow %s action %s: %w", flow.ID, action.ID, err)
				}
			}
		}
	}
	return nil
}
