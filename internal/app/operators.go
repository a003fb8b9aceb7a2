package app

import (
	"strings"

	"github.com/lorawatch/lorawan-analyzer/internal/config"
	"github.com/lorawatch/lorawan-analyzer/internal/model"
)

// CustomOperatorsFromConfig flattens config.App.Operators into the
// model.CustomOperator rows the operator matcher's rule builder expects,
// one row per prefix so a single config entry naming several prefixes
// (AllPrefixes) becomes several rules sharing that operator's name, color,
// and priority. Color-only entries (no prefixes, existing only to attach a
// color to an operator matched elsewhere by name) contribute no rows here.
func CustomOperatorsFromConfig(cfg *config.App) []model.CustomOperator {
	if cfg == nil {
		return nil
	}

	out := make([]model.CustomOperator, 0, len(cfg.Operators))
	for _, entry := range cfg.Operators {
		if entry.IsColorOnly() {
			continue
		}
		var color *string
		if c := strings.TrimSpace(entry.Color); c != "" {
			color = &c
		}
		for _, prefix := range entry.AllPrefixes() {
			out = append(out, model.CustomOperator{
				Prefix:   prefix,
				Name:     entry.Name,
				Priority: entry.Priority,
				Color:    color,
			})
		}
	}
	return out
}

// HideRulesFromConfig converts config.App.HideRules into model.HideRule
// rows for the query layer.
func HideRulesFromConfig(cfg *config.App) []model.HideRule {
	if cfg == nil {
		return nil
	}
	out := make([]model.HideRule, 0, len(cfg.HideRules))
	for _, r := range cfg.HideRules {
		out = append(out, model.HideRule{
			Type:        model.HideRuleType(r.Type),
			Prefix:      r.Prefix,
			Description: r.Description,
		})
	}
	return out
}
