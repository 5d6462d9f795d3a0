package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Analytics  AnalyticsConfig  `yaml:"analytics" mapstructure:"analytics"`
	Recompute  RecomputeConfig  `yaml:"recompute" mapstructure:"recompute"`
	Graph      GraphConfig      `yaml:"graph" mapstructure:"graph"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// ImpactWeights are the tunable constants of the component weight functions.
type ImpactWeights struct {
	// NewsPriority scales a news item's priority (or DefaultPriority when
	// the item has none).
	NewsPriority float64 `yaml:"news_priority" mapstructure:"news_priority"`
	// NewsSentiment scales the absolute sentiment of a news item.
	NewsSentiment float64 `yaml:"news_sentiment" mapstructure:"news_sentiment"`
	// DefaultPriority stands in for a missing news priority.
	DefaultPriority float64 `yaml:"default_priority" mapstructure:"default_priority"`

	// PricingChange is the base weight of a change event with a price change.
	PricingChange float64 `yaml:"pricing_change" mapstructure:"pricing_change"`
	// PricingDeltaCap caps the largest relative price delta counted.
	PricingDeltaCap float64 `yaml:"pricing_delta_cap" mapstructure:"pricing_delta_cap"`

	// FeatureRelease is the base weight of a feature-only change event.
	FeatureRelease float64 `yaml:"feature_release" mapstructure:"feature_release"`
	// FeaturePerItem adds per added or removed feature, up to FeatureItemCap items.
	FeaturePerItem float64 `yaml:"feature_per_item" mapstructure:"feature_per_item"`
	FeatureItemCap int     `yaml:"feature_item_cap" mapstructure:"feature_item_cap"`

	FundingEvent float64 `yaml:"funding_event" mapstructure:"funding_event"`
	OtherChange  float64 `yaml:"other_change" mapstructure:"other_change"`
}

// PeriodsConfig sets the window width of each period.
type PeriodsConfig struct {
	DailyHours   int `yaml:"daily_hours" mapstructure:"daily_hours"`
	WeeklyHours  int `yaml:"weekly_hours" mapstructure:"weekly_hours"`
	MonthlyHours int `yaml:"monthly_hours" mapstructure:"monthly_hours"`
}

// Durations converts the configured widths into model.PeriodDurations.
func (p PeriodsConfig) Durations() model.PeriodDurations {
	d := model.DefaultPeriodDurations()
	if p.DailyHours > 0 {
		d[model.PeriodDaily] = time.Duration(p.DailyHours) * time.Hour
	}
	if p.WeeklyHours > 0 {
		d[model.PeriodWeekly] = time.Duration(p.WeeklyHours) * time.Hour
	}
	if p.MonthlyHours > 0 {
		d[model.PeriodMonthly] = time.Duration(p.MonthlyHours) * time.Hour
	}
	return d
}

// AnalyticsConfig configures the snapshot aggregator.
type AnalyticsConfig struct {
	Weights ImpactWeights `yaml:"weights" mapstructure:"weights"`
	// WeightsFile optionally overlays Weights from a YAML file.
	WeightsFile string `yaml:"weights_file" mapstructure:"weights_file"`
	// ScoreMin and ScoreMax bound impact_score.
	ScoreMin float64 `yaml:"score_min" mapstructure:"score_min"`
	ScoreMax float64 `yaml:"score_max" mapstructure:"score_max"`
	// SentimentNeutralBand classifies |sentiment| <= band as neutral.
	SentimentNeutralBand float64       `yaml:"sentiment_neutral_band" mapstructure:"sentiment_neutral_band"`
	Periods              PeriodsConfig `yaml:"periods" mapstructure:"periods"`
}

// RecomputeConfig configures the recompute orchestrator.
type RecomputeConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	JobsPerSecond    float64 `yaml:"jobs_per_second" mapstructure:"jobs_per_second"`
	JobBurst         int     `yaml:"job_burst" mapstructure:"job_burst"`
}

// Retry converts the recompute settings into a resilience.RetryConfig.
// Zero values fall back to resilience defaults.
func (c RecomputeConfig) Retry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: time.Duration(c.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMS) * time.Millisecond,
		Multiplier:     c.Multiplier,
		JitterFraction: c.JitterFraction,
	}
}

// GraphConfig configures knowledge graph sync.
type GraphConfig struct {
	RetentionDays         int     `yaml:"retention_days" mapstructure:"retention_days"`
	WindowDays            int     `yaml:"window_days" mapstructure:"window_days"`
	CompetesWithThreshold float64 `yaml:"competes_with_threshold" mapstructure:"competes_with_threshold"`
	DefaultMentionWeight  float64 `yaml:"default_mention_weight" mapstructure:"default_mention_weight"`
}

// Retention returns the retention window as a duration.
func (c GraphConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Window returns the default sync window as a duration.
func (c GraphConfig) Window() time.Duration {
	return time.Duration(c.WindowDays) * 24 * time.Hour
}

// ScheduleConfig configures the periodic recompute trigger.
type ScheduleConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Timezone       string `yaml:"timezone" mapstructure:"timezone"`
	Daily          string `yaml:"daily" mapstructure:"daily"`
	Weekly         string `yaml:"weekly" mapstructure:"weekly"`
	Monthly        string `yaml:"monthly" mapstructure:"monthly"`
	JobTimeoutSecs int    `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
}

// Specs returns the cron spec per period. Empty specs are omitted.
func (c ScheduleConfig) Specs() map[model.Period]string {
	specs := make(map[model.Period]string, 3)
	for p, s := range map[model.Period]string{
		model.PeriodDaily:   c.Daily,
		model.PeriodWeekly:  c.Weekly,
		model.PeriodMonthly: c.Monthly,
	} {
		if s != "" {
			specs[p] = s
		}
	}
	return specs
}

// MonitoringConfig configures recompute health alerts.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	MinJobs               int     `yaml:"min_jobs" mapstructure:"min_jobs"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// Load reads configuration from ./config.yaml (if present) and environment.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from path and environment. An empty path
// falls back to an optional config.yaml in the working directory; an
// explicit path must exist.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("SIGNALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if cfg.Analytics.WeightsFile != "" {
		w, err := LoadWeightsFile(cfg.Analytics.WeightsFile, cfg.Analytics.Weights)
		if err != nil {
			return nil, err
		}
		cfg.Analytics.Weights = w
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "market-signals.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)

	w := DefaultImpactWeights()
	v.SetDefault("analytics.weights.news_priority", w.NewsPriority)
	v.SetDefault("analytics.weights.news_sentiment", w.NewsSentiment)
	v.SetDefault("analytics.weights.default_priority", w.DefaultPriority)
	v.SetDefault("analytics.weights.pricing_change", w.PricingChange)
	v.SetDefault("analytics.weights.pricing_delta_cap", w.PricingDeltaCap)
	v.SetDefault("analytics.weights.feature_release", w.FeatureRelease)
	v.SetDefault("analytics.weights.feature_per_item", w.FeaturePerItem)
	v.SetDefault("analytics.weights.feature_item_cap", w.FeatureItemCap)
	v.SetDefault("analytics.weights.funding_event", w.FundingEvent)
	v.SetDefault("analytics.weights.other_change", w.OtherChange)
	v.SetDefault("analytics.weights_file", "")
	v.SetDefault("analytics.score_min", 0.0)
	v.SetDefault("analytics.score_max", 2.0)
	v.SetDefault("analytics.sentiment_neutral_band", 0.1)
	v.SetDefault("analytics.periods.daily_hours", 24)
	v.SetDefault("analytics.periods.weekly_hours", 7*24)
	v.SetDefault("analytics.periods.monthly_hours", 30*24)

	v.SetDefault("recompute.max_attempts", 3)
	v.SetDefault("recompute.initial_backoff_ms", 200)
	v.SetDefault("recompute.max_backoff_ms", 10000)
	v.SetDefault("recompute.multiplier", 2.0)
	v.SetDefault("recompute.jitter_fraction", 0.2)
	v.SetDefault("recompute.workers", 4)
	v.SetDefault("recompute.jobs_per_second", 10.0)
	v.SetDefault("recompute.job_burst", 4)

	v.SetDefault("graph.retention_days", 90)
	v.SetDefault("graph.window_days", 30)
	v.SetDefault("graph.competes_with_threshold", 0.3)
	v.SetDefault("graph.default_mention_weight", 0.5)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.daily", "15 0 * * *")
	v.SetDefault("schedule.weekly", "30 0 * * 1")
	// Monthly windows are fixed 30-day blocks, so the job runs daily and is
	// a no-op until a new block closes.
	v.SetDefault("schedule.monthly", "45 0 * * *")
	v.SetDefault("schedule.job_timeout_secs", 1800)

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.fallback_rate_threshold", 0.2)
	v.SetDefault("monitoring.min_jobs", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
