package pricing

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// intervalAliases folds the spellings extractors produce onto one name.
var intervalAliases = map[string]string{
	"mo":            "month",
	"mon":           "month",
	"month":         "month",
	"monthly":       "month",
	"per month":     "month",
	"/mo":           "month",
	"/month":        "month",
	"yr":            "year",
	"year":          "year",
	"yearly":        "year",
	"annual":        "year",
	"annually":      "year",
	"per year":      "year",
	"/yr":           "year",
	"/year":         "year",
	"wk":            "week",
	"week":          "week",
	"weekly":        "week",
	"day":           "day",
	"daily":         "day",
	"quarter":       "quarter",
	"quarterly":     "quarter",
	"once":          "one_time",
	"one time":      "one_time",
	"one-time":      "one_time",
	"lifetime":      "one_time",
	"usage":         "usage",
	"usage-based":   "usage",
	"usage based":   "usage",
	"pay as you go": "usage",
}

// CanonicalText applies NFKC normalisation, Unicode case folding and
// whitespace collapsing. Names and features are compared in this form.
func CanonicalText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalInterval maps a billing interval onto its canonical name. Unknown
// intervals keep their canonical text form.
func CanonicalInterval(s string) string {
	c := CanonicalText(s)
	if alias, ok := intervalAliases[c]; ok {
		return alias
	}
	return c
}

// Normalize validates raw and returns its canonical, hashed form. Plans are
// sorted by (name, price, interval, features); features are a sorted set;
// exact duplicate plans collapse into one.
func Normalize(raw *RawExtraction) (*model.NormalizedExtraction, error) {
	if raw == nil {
		return nil, resilience.Validationf("extraction", "missing")
	}
	if err := validateExtraction(raw); err != nil {
		return nil, err
	}

	plans := make([]model.PlanRecord, 0, len(raw.Plans))
	for i, p := range raw.Plans {
		name := CanonicalText(p.Name)
		if name == "" {
			return nil, resilience.Validationf("plans", "plan %d has a blank name", i)
		}
		price := *p.Price
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return nil, resilience.Validationf("plans", "plan %q has a non-finite price", name)
		}
		plans = append(plans, model.PlanRecord{
			Name:            name,
			Price:           roundCents(price),
			BillingInterval: CanonicalInterval(p.BillingInterval),
			Features:        canonicalFeatures(p.Features),
		})
	}

	sort.SliceStable(plans, func(i, j int) bool {
		return comparePlans(plans[i], plans[j]) < 0
	})
	plans = dedupePlans(plans)

	out := &model.NormalizedExtraction{
		Plans:       plans,
		ExtractedAt: raw.ExtractedAt.UTC(),
	}
	hash, err := ContentHash(out)
	if err != nil {
		return nil, err
	}
	out.ContentHash = hash
	return out, nil
}

func validateExtraction(raw *RawExtraction) error {
	err := validate.Struct(raw)
	if err == nil {
		if raw.ExtractedAt.IsZero() {
			return resilience.Validationf("extracted_at", "required")
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return resilience.NewValidationError("extraction", err)
	}
	fe := verrs[0]
	return resilience.Validationf(fe.Namespace(), "failed %s", fe.Tag())
}

func canonicalFeatures(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, f := range in {
		c := CanonicalText(f)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func comparePlans(a, b model.PlanRecord) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if a.Price != b.Price {
		if a.Price < b.Price {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.BillingInterval, b.BillingInterval); c != 0 {
		return c
	}
	return strings.Compare(strings.Join(a.Features, "\x00"), strings.Join(b.Features, "\x00"))
}

// dedupePlans drops adjacent identical plans from a sorted slice.
func dedupePlans(plans []model.PlanRecord) []model.PlanRecord {
	if len(plans) < 2 {
		return plans
	}
	out := plans[:1]
	for _, p := range plans[1:] {
		if comparePlans(out[len(out)-1], p) != 0 {
			out = append(out, p)
		}
	}
	return out
}
