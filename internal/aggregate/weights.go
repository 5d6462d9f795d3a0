package aggregate

import (
	"math"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
)

// newsComponent scores one news item. Funding news is scored as a funding
// event, everything else as a news signal scaled by priority and the
// strength of its sentiment. Items that score zero produce no component.
func newsComponent(w config.ImpactWeights, n *model.NewsItem) (model.ImpactComponent, bool) {
	priority := w.DefaultPriority
	if n.Priority != nil {
		priority = *n.Priority
	}

	c := model.ImpactComponent{
		ComponentType: model.ComponentNewsSignal,
		SourceRef:     model.SourceRef{Kind: model.SourceNews, ID: n.ID},
	}
	if n.IsFunding() {
		c.ComponentType = model.ComponentFundingEvent
		c.ScoreContribution = w.FundingEvent * priority
	} else {
		c.ScoreContribution = w.NewsPriority * priority
		if n.Sentiment != nil {
			c.ScoreContribution += w.NewsSentiment * math.Abs(*n.Sentiment)
		}
	}
	return c, c.ScoreContribution > 0
}

// eventComponent scores one change event. A price change outranks a feature
// change on the same event; anything else (plans added or removed, billing
// interval changes) is scored as other.
func eventComponent(w config.ImpactWeights, ev *model.ChangeEvent) (model.ImpactComponent, bool) {
	c := model.ImpactComponent{
		SourceRef: model.SourceRef{Kind: model.SourceChangeEvent, ID: ev.ID},
	}
	switch {
	case ev.HasPriceChange():
		c.ComponentType = model.ComponentPricingChange
		c.ScoreContribution = w.PricingChange * (1 + math.Min(maxPriceDelta(&ev.RawDiff), w.PricingDeltaCap))
	case ev.HasFeatureChange():
		c.ComponentType = model.ComponentFeatureRelease
		items := 0
		for _, pc := range ev.RawDiff.Changed {
			items += len(pc.FeaturesAdded) + len(pc.FeaturesRemoved)
		}
		if w.FeatureItemCap > 0 && items > w.FeatureItemCap {
			items = w.FeatureItemCap
		}
		c.ScoreContribution = w.FeatureRelease + w.FeaturePerItem*float64(items)
	default:
		c.ComponentType = model.ComponentOther
		c.ScoreContribution = w.OtherChange
	}
	return c, c.ScoreContribution > 0
}

// maxPriceDelta returns the largest relative price move across the plans of
// a diff.
func maxPriceDelta(d *model.ExtractionDiff) float64 {
	var m float64
	for _, pc := range d.Changed {
		if pc.PriceChanged == nil {
			continue
		}
		if r := pc.PriceChanged.RelativeDelta(); r > m {
			m = r
		}
	}
	return m
}
