package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultImpactWeights returns the weight profile used when nothing is
// configured. A single high-priority news item contributes about 0.1 and a
// large price move about 0.6, so a busy period lands well inside [0, 2].
func DefaultImpactWeights() ImpactWeights {
	return ImpactWeights{
		NewsPriority:    0.1,
		NewsSentiment:   0.05,
		DefaultPriority: 0.5,

		PricingChange:   0.3,
		PricingDeltaCap: 1.0,

		FeatureRelease: 0.2,
		FeaturePerItem: 0.05,
		FeatureItemCap: 5,

		FundingEvent: 0.5,
		OtherChange:  0.05,
	}
}

// DefaultAnalyticsConfig returns the aggregator defaults.
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		Weights:              DefaultImpactWeights(),
		ScoreMin:             0,
		ScoreMax:             2,
		SentimentNeutralBand: 0.1,
		Periods: PeriodsConfig{
			DailyHours:   24,
			WeeklyHours:  7 * 24,
			MonthlyHours: 30 * 24,
		},
	}
}

// weightsFile is the on-disk layout of a weights profile.
type weightsFile struct {
	Weights yaml.Node `yaml:"weights"`
}

// LoadWeightsFile overlays the weights in the YAML file at path onto base.
// Keys missing from the file keep their base value. The file holds a single
// top-level "weights" mapping using the same keys as analytics.weights.
func LoadWeightsFile(path string, base ImpactWeights) (ImpactWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, eris.Wrapf(err, "config: read weights file %s", path)
	}

	var f weightsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, eris.Wrapf(err, "config: parse weights file %s", path)
	}
	if f.Weights.Kind == 0 {
		return base, eris.Errorf("config: weights file %s has no weights mapping", path)
	}

	out := base
	if err := f.Weights.Decode(&out); err != nil {
		return base, eris.Wrapf(err, "config: decode weights file %s", path)
	}
	if err := ValidateImpactWeights(out); err != nil {
		return base, err
	}
	return out, nil
}
