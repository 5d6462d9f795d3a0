package pricing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/market-signals/internal/resilience"
)

func price(v float64) *float64 { return &v }

func rawExtraction(plans ...RawPlan) *RawExtraction {
	return &RawExtraction{
		CompanyID:   "acme",
		SourceURL:   "https://acme.example/pricing",
		SourceType:  "pricing_page",
		Plans:       plans,
		ExtractedAt: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNormalize_CanonicalForm(t *testing.T) {
	t.Parallel()

	ext, err := Normalize(rawExtraction(
		RawPlan{Name: "  Pro   Plan ", Price: price(19.999), BillingInterval: "Monthly", Features: []string{"SSO", " api  access", "sso"}},
		RawPlan{Name: "Basic", Price: price(0), BillingInterval: "/mo", Features: nil},
	))
	require.NoError(t, err)

	require.Len(t, ext.Plans, 2)
	assert.Equal(t, "basic", ext.Plans[0].Name)
	assert.Equal(t, "month", ext.Plans[0].BillingInterval)
	assert.Empty(t, ext.Plans[0].Features)

	assert.Equal(t, "pro plan", ext.Plans[1].Name)
	assert.InDelta(t, 20.0, ext.Plans[1].Price, 1e-9)
	assert.Equal(t, []string{"api access", "sso"}, ext.Plans[1].Features)

	assert.Len(t, ext.ContentHash, 64)
	assert.Equal(t, time.UTC, ext.ExtractedAt.Location())
}

func TestNormalize_HashStableAcrossOrdering(t *testing.T) {
	t.Parallel()

	a, err := Normalize(rawExtraction(
		RawPlan{Name: "Starter", Price: price(10), BillingInterval: "month", Features: []string{"5 seats", "Email support"}},
		RawPlan{Name: "Team", Price: price(50), BillingInterval: "month", Features: []string{"SSO", "Audit log"}},
	))
	require.NoError(t, err)

	b := rawExtraction(
		RawPlan{Name: "team", Price: price(50.0), BillingInterval: "MONTHLY", Features: []string{"audit   log", "sso"}},
		RawPlan{Name: "STARTER ", Price: price(10.00), BillingInterval: "mo", Features: []string{"email support", "5 seats"}},
	)
	b.ExtractedAt = b.ExtractedAt.Add(48 * time.Hour)
	bn, err := Normalize(b)
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, bn.ContentHash)
	assert.Equal(t, a.Plans, bn.Plans)
}

func TestNormalize_HashChangesWithContent(t *testing.T) {
	t.Parallel()

	a, err := Normalize(rawExtraction(RawPlan{Name: "Pro", Price: price(10), Features: []string{"api"}}))
	require.NoError(t, err)
	b, err := Normalize(rawExtraction(RawPlan{Name: "Pro", Price: price(12), Features: []string{"api"}}))
	require.NoError(t, err)
	c, err := Normalize(rawExtraction(RawPlan{Name: "Pro", Price: price(10), Features: []string{"api", "sso"}}))
	require.NoError(t, err)

	assert.NotEqual(t, a.ContentHash, b.ContentHash)
	assert.NotEqual(t, a.ContentHash, c.ContentHash)
}

func TestNormalize_UnicodeFolding(t *testing.T) {
	t.Parallel()

	// Full-width letters and the ligature fold onto their ASCII forms.
	a, err := Normalize(rawExtraction(RawPlan{Name: "ＰＲＯ", Price: price(1), Features: []string{"ﬁles"}}))
	require.NoError(t, err)
	b, err := Normalize(rawExtraction(RawPlan{Name: "pro", Price: price(1), Features: []string{"FILES"}}))
	require.NoError(t, err)
	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestNormalize_DuplicatePlansCollapse(t *testing.T) {
	t.Parallel()

	ext, err := Normalize(rawExtraction(
		RawPlan{Name: "Pro", Price: price(10)},
		RawPlan{Name: "pro", Price: price(10)},
	))
	require.NoError(t, err)
	assert.Len(t, ext.Plans, 1)
}

func TestNormalize_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  *RawExtraction
		want string
	}{
		{"nil", nil, "extraction"},
		{"missing price", rawExtraction(RawPlan{Name: "Pro"}), "Price"},
		{"negative price", rawExtraction(RawPlan{Name: "Pro", Price: price(-1)}), "Price"},
		{"missing name", rawExtraction(RawPlan{Price: price(1)}), "Name"},
		{"blank name", rawExtraction(RawPlan{Name: "   ", Price: price(1)}), "blank name"},
		{"no plans", rawExtraction(), "Plans"},
		{"missing company", func() *RawExtraction {
			r := rawExtraction(RawPlan{Name: "Pro", Price: price(1)})
			r.CompanyID = ""
			return r
		}(), "CompanyID"},
		{"bad url", func() *RawExtraction {
			r := rawExtraction(RawPlan{Name: "Pro", Price: price(1)})
			r.SourceURL = "not a url"
			return r
		}(), "SourceURL"},
		{"no timestamp", func() *RawExtraction {
			r := rawExtraction(RawPlan{Name: "Pro", Price: price(1)})
			r.ExtractedAt = time.Time{}
			return r
		}(), "extracted_at"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			require.Error(t, err)
			assert.True(t, resilience.IsValidation(err))
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestCanonicalInterval(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Monthly":     "month",
		" per  MONTH": "month",
		"Annually":    "year",
		"/yr":         "year",
		"one-time":    "one_time",
		"":            "",
		"Biweekly":    "biweekly",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalInterval(in), in)
	}
}
