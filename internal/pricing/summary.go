package pricing

import (
	"fmt"
	"strings"

	"github.com/sells-group/market-signals/internal/model"
)

// Summarize renders a diff as a one-paragraph change_summary.
func Summarize(d model.ExtractionDiff) string {
	switch d.Kind {
	case model.DiffBaseline:
		return "First capture of this page."
	case model.DiffUnchanged:
		return "No changes detected."
	}

	var parts []string
	if len(d.AddedPlans) > 0 {
		parts = append(parts, "Added plans: "+strings.Join(d.AddedPlans, ", "))
	}
	if len(d.RemovedPlans) > 0 {
		parts = append(parts, "Removed plans: "+strings.Join(d.RemovedPlans, ", "))
	}
	for _, c := range d.Changed {
		var details []string
		if c.PriceChanged != nil {
			details = append(details, fmt.Sprintf("price %.2f -> %.2f", c.PriceChanged.Old, c.PriceChanged.New))
		}
		if c.IntervalChanged != nil {
			details = append(details, fmt.Sprintf("billing %s -> %s",
				intervalLabel(c.IntervalChanged.Old), intervalLabel(c.IntervalChanged.New)))
		}
		if len(c.FeaturesAdded) > 0 {
			details = append(details, "features added: "+strings.Join(c.FeaturesAdded, ", "))
		}
		if len(c.FeaturesRemoved) > 0 {
			details = append(details, "features removed: "+strings.Join(c.FeaturesRemoved, ", "))
		}
		parts = append(parts, c.Plan+": "+strings.Join(details, "; "))
	}
	return strings.Join(parts, ". ") + "."
}

func intervalLabel(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
