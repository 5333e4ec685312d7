package dex

import (
	"sort"

	"github.com/matthewgall/binder/internal/models"
)

// StatsByGeneration counts totals and owned items for every generation present in items.
// The result is ordered by generation and includes the unknown bucket when present.
func StatsByGeneration(items []models.Item, owned OwnedSet) []models.GenerationStat {
	byGeneration := make(map[int]*models.GenerationStat)
	for _, item := range items {
		stat, ok := byGeneration[item.Generation]
		if !ok {
			stat = &models.GenerationStat{Generation: item.Generation}
			byGeneration[item.Generation] = stat
		}
		stat.Total++
		if owned.Has(item.ID) {
			stat.Owned++
		}
	}

	stats := make([]models.GenerationStat, 0, len(byGeneration))
	for _, stat := range byGeneration {
		stat.Missing = stat.Total - stat.Owned
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Generation < stats[j].Generation
	})

	return stats
}

// VisibleStats drops the unknown generation bucket.
func VisibleStats(stats []models.GenerationStat) []models.GenerationStat {
	visible := make([]models.GenerationStat, 0, len(stats))
	for _, stat := range stats {
		if stat.Generation == UnknownGeneration {
			continue
		}
		visible = append(visible, stat)
	}
	return visible
}
