// Package commerce prices carts and moves orders through their lifecycle.
package commerce

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"dinein-commerce/internal/common/errors"
	"dinein-commerce/internal/models"
)

// MsgOptionsUnavailable is shown when a selection references options the item no longer has.
const MsgOptionsUnavailable = "The selected options are no longer available. Please reopen the item."

// ParseSelection reads modifier selections given as a list or a comma separated string of
// "modifierId:optionId" pairs. Blanks and duplicates are dropped; order is preserved.
func ParseSelection(raw interface{}) []string {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []interface{}:
		for _, p := range v {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
	default:
		return nil
	}

	seen := make(map[string]bool, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// ApplyModifiers validates selected against the item's modifiers and returns the chosen
// options as snapshots. Modifiers with nothing selected fall back to their default options.
func ApplyModifiers(item *models.MenuItem, selected []string) ([]models.ModifierSnapshot, error) {
	byModifier := make(map[string][]string)
	for _, sel := range selected {
		modID, optID, ok := strings.Cut(sel, ":")
		if !ok || modID == "" || optID == "" {
			return nil, errors.NewValidationError(MsgOptionsUnavailable)
		}
		byModifier[modID] = append(byModifier[modID], optID)
	}

	known := make(map[string]bool, len(item.Modifiers))
	var out []models.ModifierSnapshot
	for _, mod := range item.Modifiers {
		known[mod.ID] = true
		chosen := byModifier[mod.ID]
		if len(chosen) == 0 {
			for _, opt := range mod.Options {
				if opt.IsDefault {
					chosen = append(chosen, opt.ID)
				}
			}
		}
		if mod.Required && len(chosen) == 0 {
			return nil, errors.NewValidationError(fmt.Sprintf("Please choose at least one option for %s.", mod.Name))
		}
		if mod.Type == models.ModifierSingle && len(chosen) > 1 {
			return nil, errors.NewValidationError(fmt.Sprintf("Choose only one option for %s.", mod.Name))
		}
		for _, optID := range chosen {
			opt, ok := findOption(mod, optID)
			if !ok {
				return nil, errors.NewValidationError(MsgOptionsUnavailable)
			}
			out = append(out, models.ModifierSnapshot{
				ModifierID:      mod.ID,
				ModifierName:    mod.Name,
				OptionID:        opt.ID,
				OptionName:      opt.Name,
				PriceDeltaMinor: opt.PriceDeltaMinor,
			})
		}
	}
	for modID := range byModifier {
		if !known[modID] {
			return nil, errors.NewValidationError(MsgOptionsUnavailable)
		}
	}
	return out, nil
}

func findOption(mod models.Modifier, id string) (models.ModifierOption, bool) {
	for _, opt := range mod.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return models.ModifierOption{}, false
}

// UnitPrice is the base price plus every selected option delta.
func UnitPrice(base int64, mods []models.ModifierSnapshot) int64 {
	unit := base
	for _, m := range mods {
		unit += m.PriceDeltaMinor
	}
	return unit
}

// SortSnapshots orders selections by modifier then option id.
func SortSnapshots(mods []models.ModifierSnapshot) {
	sort.Slice(mods, func(i, j int) bool {
		if mods[i].ModifierID != mods[j].ModifierID {
			return mods[i].ModifierID < mods[j].ModifierID
		}
		return mods[i].OptionID < mods[j].OptionID
	})
}

// Fingerprint identifies a cart line for merging: same item, same unit price, same options
// regardless of selection order.
func Fingerprint(itemID string, unitPriceMinor int64, mods []models.ModifierSnapshot) string {
	keys := make([]string, len(mods))
	for i, m := range mods {
		keys[i] = m.ModifierID + ":" + m.OptionID
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(itemID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(unitPriceMinor, 10)))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DescribeSnapshots renders "Size: Large, Milk: Oat".
func DescribeSnapshots(mods []models.ModifierSnapshot) string {
	parts := make([]string, len(mods))
	for i, m := range mods {
		parts[i] = m.ModifierName + ": " + m.OptionName
	}
	return strings.Join(parts, ", ")
}

// Reprice recomputes every line total and the cart totals. Applying it to its own output
// changes nothing.
func Reprice(lines []models.CartLine, serviceChargePct float64) ([]models.CartLine, models.Totals) {
	out := make([]models.CartLine, len(lines))
	var subtotal int64
	for i, l := range lines {
		l.LineTotalMinor = l.UnitPriceMinor * int64(l.Qty)
		subtotal += l.LineTotalMinor
		out[i] = l
	}
	service := models.ServiceCharge(subtotal, serviceChargePct)
	return out, models.Totals{
		SubtotalMinor:      subtotal,
		ServiceChargeMinor: service,
		TotalMinor:         subtotal + service,
	}
}
