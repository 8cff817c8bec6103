package pipeline

import (
	"github.com/aluiziolira/go-scrape-phones/config"
	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
)

// CleanRows re-applies normalization to rows loaded from an earlier output
// and fills in missing categories. It returns how many rows changed.
func CleanRows(rows []*models.Row, cfg *config.Config) int {
	changed := 0
	for _, row := range rows {
		if row == nil {
			continue
		}
		before := *row
		row.Device = parser.Normalize(row.Device)
		if row.CategoryID <= 0 {
			row.CategoryID = parser.ResolveCategory(row.Name, cfg.CategoryRules, cfg.DefaultCategoryID)
		}
		if before != *row {
			changed++
		}
	}
	return changed
}
