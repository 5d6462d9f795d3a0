package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
)

// Row preparation shared by both backends.

func prepareSnapshot(snap *model.PricingSnapshot) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
}

func prepareEvent(ev *model.ChangeEvent, snap *model.PricingSnapshot) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CurrentSnapshotID == "" {
		ev.CurrentSnapshotID = snap.ID
	}
	if ev.ChangedFields == nil {
		ev.ChangedFields = []string{}
	}
}

func marshalExtraction(ext *model.NormalizedExtraction) (any, error) {
	if ext == nil {
		return nil, nil
	}
	b, err := json.Marshal(ext)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal extraction")
	}
	return string(b), nil
}

func marshalEvent(ev *model.ChangeEvent) (fields, diff string, err error) {
	fb, err := json.Marshal(ev.ChangedFields)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal changed fields")
	}
	rb, err := json.Marshal(ev.RawDiff)
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal raw diff")
	}
	return string(fb), string(rb), nil
}

func unmarshalEvent(ev *model.ChangeEvent, fields, diff []byte) error {
	if err := json.Unmarshal(fields, &ev.ChangedFields); err != nil {
		return eris.Wrap(err, "store: unmarshal changed fields")
	}
	if err := json.Unmarshal(diff, &ev.RawDiff); err != nil {
		return eris.Wrap(err, "store: unmarshal raw diff")
	}
	return nil
}

func prepareAnalytics(snap *model.CompanyAnalyticsSnapshot) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.MetricBreakdown == nil {
		snap.MetricBreakdown = map[string]any{}
	}
	for i := range snap.Components {
		c := &snap.Components[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.SnapshotID = snap.ID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = snap.CreatedAt
		}
	}
}

func prepareJob(job *model.RecomputeJob) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	if job.State == "" {
		job.State = model.JobRunning
	}
}

func marshalBreakdown(m map[string]any) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal metric breakdown")
	}
	return string(b), nil
}
