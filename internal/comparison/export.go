package comparison

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/market-signals/internal/resilience"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts json, csv or xlsx; empty means json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", resilience.Validationf("format", "unknown export format %q", s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Write encodes p as f.
func Write(w io.Writer, f Format, p *Payload) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, p)
	case FormatXLSX:
		return WriteXLSX(w, p)
	default:
		return WriteJSON(w, p)
	}
}

// WriteJSON writes the payload as indented JSON.
func WriteJSON(w io.Writer, p *Payload) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(p), "comparison: encode json")
}

// summaryColumns are the per-subject columns shared by CSV and the XLSX
// summary sheet.
var summaryColumns = []string{
	"company_id",
	"status",
	"period_start",
	"period_end",
	"impact_score",
	"innovation_velocity",
	"trend_delta",
	"news_total",
	"news_positive",
	"news_negative",
	"news_neutral",
	"news_average_sentiment",
	"news_average_priority",
	"pricing_changes",
	"feature_updates",
	"funding_events",
	"fallback",
	"components",
	"unavailable_sources",
}

// summaryRow renders one subject. Metric cells are blank for an empty
// subject so "no data" never reads as zero.
func summaryRow(b *SubjectBlock) []string {
	row := make([]string, len(summaryColumns))
	row[0] = b.CompanyID
	row[1] = b.Status
	s := b.Latest
	if s == nil {
		return row
	}
	unavailable := 0
	for _, c := range b.Components {
		if c.Source == SourceUnavailable {
			unavailable++
		}
	}
	copy(row[2:], []string{
		s.PeriodStart.Format(time.RFC3339),
		s.PeriodEnd.Format(time.RFC3339),
		formatFloat(s.ImpactScore),
		formatFloat(s.InnovationVelocity),
		formatFloat(s.TrendDelta),
		strconv.Itoa(s.NewsTotal),
		strconv.Itoa(s.NewsPositive),
		strconv.Itoa(s.NewsNegative),
		strconv.Itoa(s.NewsNeutral),
		formatFloat(s.NewsAverageSentiment),
		formatFloat(s.NewsAveragePriority),
		strconv.Itoa(s.PricingChanges),
		strconv.Itoa(s.FeatureUpdates),
		strconv.Itoa(s.FundingEvents),
		strconv.FormatBool(s.Fallback),
		strconv.Itoa(len(b.Components)),
		strconv.Itoa(unavailable),
	})
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// WriteCSV writes one row per subject.
func WriteCSV(w io.Writer, p *Payload) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(summaryColumns); err != nil {
		return eris.Wrap(err, "comparison: write csv header")
	}
	for i := range p.Subjects {
		if err := cw.Write(summaryRow(&p.Subjects[i])); err != nil {
			return eris.Wrap(err, "comparison: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "comparison: flush csv")
}

// WriteXLSX writes a workbook with summary, series and changes sheets.
func WriteXLSX(w io.Writer, p *Payload) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet("summary")
	if err != nil {
		return eris.Wrap(err, "comparison: add summary sheet")
	}
	addRow(summary, summaryColumns)
	for i := range p.Subjects {
		addRow(summary, summaryRow(&p.Subjects[i]))
	}

	series, err := f.AddSheet("series")
	if err != nil {
		return eris.Wrap(err, "comparison: add series sheet")
	}
	addRow(series, []string{"company_id", "period_start", "period_end", "impact_score",
		"innovation_velocity", "trend_delta", "news_total", "pricing_changes", "feature_updates", "fallback"})
	for _, b := range p.Subjects {
		for _, pt := range b.Series {
			addRow(series, []string{
				b.CompanyID,
				pt.PeriodStart.Format(time.RFC3339),
				pt.PeriodEnd.Format(time.RFC3339),
				formatFloat(pt.ImpactScore),
				formatFloat(pt.InnovationVelocity),
				formatFloat(pt.TrendDelta),
				strconv.Itoa(pt.NewsTotal),
				strconv.Itoa(pt.PricingChanges),
				strconv.Itoa(pt.FeatureUpdates),
				strconv.FormatBool(pt.Fallback),
			})
		}
	}

	changes, err := f.AddSheet("changes")
	if err != nil {
		return eris.Wrap(err, "comparison: add changes sheet")
	}
	addRow(changes, []string{"company_id", "event_id", "detected_at", "source_url",
		"changed_fields", "change_summary", "notification_status"})
	for _, b := range p.Subjects {
		for _, ev := range b.Changes {
			addRow(changes, []string{
				b.CompanyID,
				ev.ID,
				ev.DetectedAt.Format(time.RFC3339),
				ev.SourceURL,
				strings.Join(ev.ChangedFields, ","),
				ev.ChangeSummary,
				string(ev.NotificationStatus),
			})
		}
	}

	return eris.Wrap(f.Write(w), "comparison: write xlsx")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
