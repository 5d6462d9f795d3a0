package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
)

// ValidateImpactWeights rejects negative weights and caps.
func ValidateImpactWeights(w ImpactWeights) error {
	var errs []string

	weights := []struct {
		name string
		v    float64
	}{
		{"news_priority", w.NewsPriority},
		{"news_sentiment", w.NewsSentiment},
		{"pricing_change", w.PricingChange},
		{"pricing_delta_cap", w.PricingDeltaCap},
		{"feature_release", w.FeatureRelease},
		{"feature_per_item", w.FeaturePerItem},
		{"funding_event", w.FundingEvent},
		{"other_change", w.OtherChange},
	}
	for _, wt := range weights {
		if wt.v < 0 {
			errs = append(errs, fmt.Sprintf("weights.%s must be >= 0", wt.name))
		}
	}
	if w.DefaultPriority < 0 || w.DefaultPriority > 1 {
		errs = append(errs, "weights.default_priority must be between 0 and 1")
	}
	if w.FeatureItemCap < 0 {
		errs = append(errs, "weights.feature_item_cap must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: weights validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateAnalyticsConfig checks that an AnalyticsConfig is internally consistent.
func ValidateAnalyticsConfig(c AnalyticsConfig) error {
	var errs []string

	if err := ValidateImpactWeights(c.Weights); err != nil {
		errs = append(errs, err.Error())
	}
	if c.ScoreMax <= c.ScoreMin {
		errs = append(errs, "analytics.score_max must be > score_min")
	}
	if c.SentimentNeutralBand < 0 || c.SentimentNeutralBand >= 1 {
		errs = append(errs, "analytics.sentiment_neutral_band must be in [0, 1)")
	}
	if c.Periods.DailyHours <= 0 || c.Periods.WeeklyHours <= 0 || c.Periods.MonthlyHours <= 0 {
		errs = append(errs, "analytics.periods durations must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: analytics validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateRecomputeConfig checks retry and pool settings.
func ValidateRecomputeConfig(c RecomputeConfig) error {
	var errs []string

	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		errs = append(errs, "recompute.max_attempts must be between 1 and 20")
	}
	if c.InitialBackoffMS < 0 || c.MaxBackoffMS < 0 {
		errs = append(errs, "recompute backoff must be >= 0")
	}
	if c.MaxBackoffMS > 0 && c.MaxBackoffMS < c.InitialBackoffMS {
		errs = append(errs, "recompute.max_backoff_ms must be >= initial_backoff_ms")
	}
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		errs = append(errs, "recompute.jitter_fraction must be between 0 and 1")
	}
	if c.Workers < 1 || c.Workers > 64 {
		errs = append(errs, "recompute.workers must be between 1 and 64")
	}
	if c.JobsPerSecond < 0 {
		errs = append(errs, "recompute.jobs_per_second must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: recompute validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateGraphConfig checks graph sync settings.
func ValidateGraphConfig(c GraphConfig) error {
	var errs []string

	if c.RetentionDays <= 0 {
		errs = append(errs, "graph.retention_days must be > 0")
	}
	if c.WindowDays <= 0 {
		errs = append(errs, "graph.window_days must be > 0")
	}
	if c.CompetesWithThreshold <= 0 || c.CompetesWithThreshold > 1 {
		errs = append(errs, "graph.competes_with_threshold must be in (0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: graph validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateScheduleConfig parses every cron spec.
func ValidateScheduleConfig(c ScheduleConfig) error {
	var errs []string
	for p, spec := range c.Specs() {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("schedule.%s: %v", p, err))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("config: schedule validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the settings required by mode. Modes: "serve" (API,
// scheduler and monitor) and "cli" (one-shot commands).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	for _, err := range []error{
		ValidateAnalyticsConfig(c.Analytics),
		ValidateRecomputeConfig(c.Recompute),
		ValidateGraphConfig(c.Graph),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Schedule.Enabled {
			if err := ValidateScheduleConfig(c.Schedule); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if c.Monitoring.Enabled && c.Monitoring.CheckIntervalSecs <= 0 {
			errs = append(errs, "monitoring.check_interval_secs must be > 0")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
