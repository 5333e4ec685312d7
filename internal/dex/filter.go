package dex

import (
	"strings"

	"github.com/matthewgall/binder/internal/models"
)

// Filter is the subset of list state that decides which items are shown.
type Filter struct {
	SearchText   string
	OnlyOwned    bool
	OnlyNotOwned bool
}

// Apply returns the items matching the filter in catalog order.
func Apply(items []models.Item, owned OwnedSet, filter Filter) []models.Item {
	query := strings.ToLower(filter.SearchText)

	visible := make([]models.Item, 0, len(items))
	for _, item := range items {
		if query != "" && !strings.Contains(strings.ToLower(item.Name), query) {
			continue
		}
		switch {
		case filter.OnlyOwned:
			if !owned.Has(item.ID) {
				continue
			}
		case filter.OnlyNotOwned:
			if owned.Has(item.ID) {
				continue
			}
		}
		visible = append(visible, item)
	}

	return visible
}
