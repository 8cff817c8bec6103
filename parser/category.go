package parser

import (
	"strings"

	"github.com/aluiziolira/go-scrape-phones/config"
)

// ResolveCategory returns the category of the first rule whose fragment
// appears in name, or fallback.
func ResolveCategory(name string, rules []config.CategoryRule, fallback int) int {
	lower := strings.ToLower(name)
	for _, rule := range rules {
		match := strings.ToLower(strings.TrimSpace(rule.Match))
		if match != "" && strings.Contains(lower, match) {
			return rule.CategoryID
		}
	}
	return fallback
}
