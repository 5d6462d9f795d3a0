// Package schedule fires the periodic recompute trigger on cron schedules.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-signals/internal/config"
	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/recompute"
)

// Runner executes one periodic trigger.
type Runner interface {
	RunScheduled(ctx context.Context, period model.Period, now time.Time) (*recompute.ScheduledResult, error)
}

// Scheduler registers one cron entry per configured period. An entry that
// is still running when its next tick arrives skips that tick.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	loc     *time.Location

	mu      sync.Mutex
	entries map[model.Period]cron.EntryID
	last    map[model.Period]*recompute.ScheduledResult

	now func() time.Time
	log *zap.Logger
}

// New creates a scheduler for the periods with a non-empty spec.
func New(cfg config.ScheduleConfig, runner Runner) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: load timezone %s", tz)
	}

	log := zap.L().With(zap.String("component", "schedule.scheduler"))
	clog := cronLogger{log: log.Sugar()}
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithLogger(clog), cron.WithChain(cron.SkipIfStillRunning(clog))),
		runner:  runner,
		timeout: time.Duration(cfg.JobTimeoutSecs) * time.Second,
		loc:     loc,
		entries: make(map[model.Period]cron.EntryID),
		last:    make(map[model.Period]*recompute.ScheduledResult),
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Minute
	}

	for period, spec := range cfg.Specs() {
		if err := s.add(period, spec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(period model.Period, spec string) error {
	id, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunNow(context.Background(), period); err != nil {
			s.log.Error("scheduled recompute failed", zap.String("period", string(period)), zap.Error(err))
		}
	})
	if err != nil {
		return eris.Wrapf(err, "schedule: add %s job (%s)", period, spec)
	}
	s.entries[period] = id
	s.log.Info("scheduled recompute", zap.String("period", string(period)), zap.String("spec", spec))
	return nil
}

// RunNow fires the trigger for period immediately with the job timeout.
func (s *Scheduler) RunNow(ctx context.Context, period model.Period) (*recompute.ScheduledResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.runner.RunScheduled(ctx, period, s.now())
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: run %s", period)
	}

	s.mu.Lock()
	s.last[period] = res
	s.mu.Unlock()

	s.log.Info("scheduled recompute complete",
		zap.String("period", string(period)),
		zap.Time("period_start", res.PeriodStart),
		zap.Int("succeeded", res.Batch.Succeeded),
		zap.Int("fallback", res.Batch.Fallback),
		zap.Int("failed", res.Batch.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// Start begins firing entries in the background.
func (s *Scheduler) Start() {
	s.log.Info("starting scheduler", zap.Int("entries", len(s.entries)))
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// entries have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("stopping scheduler")
	return s.cron.Stop()
}

// EntryInfo describes one registered period.
type EntryInfo struct {
	Period  model.Period               `json:"period"`
	NextRun time.Time                  `json:"next_run"`
	LastRun time.Time                  `json:"last_run,omitempty"`
	Last    *recompute.ScheduledResult `json:"last,omitempty"`
}

// Entries lists the registered periods ordered by period name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for period, id := range s.entries {
		e := s.cron.Entry(id)
		infos = append(infos, EntryInfo{
			Period:  period,
			NextRun: e.Next,
			LastRun: e.Prev,
			Last:    s.last[period],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Period < infos[j].Period })
	return infos
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
