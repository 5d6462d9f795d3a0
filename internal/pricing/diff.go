package pricing

import (
	"math"
	"slices"
	"sort"
	"strconv"

	"github.com/sells-group/market-signals/internal/model"
)

// Diff compares two consecutive extractions of the same page. A nil prev
// yields a baseline marker. Equal content hashes short-circuit to unchanged
// before any field comparison.
//
// Plans are matched by normalised name. A renamed plan is reported as one
// removal plus one addition. When a name repeats on either side, plans are
// matched within the same name and billing interval.
func Diff(prev, cur *model.NormalizedExtraction) model.ExtractionDiff {
	if prev == nil {
		return model.ExtractionDiff{Kind: model.DiffBaseline}
	}
	if cur == nil {
		cur = &model.NormalizedExtraction{}
	}
	if prev.ContentHash != "" && prev.ContentHash == cur.ContentHash {
		return model.ExtractionDiff{Kind: model.DiffUnchanged}
	}

	d := model.ExtractionDiff{Kind: model.DiffChanged}
	for _, g := range groupPlans(prev.Plans, cur.Plans) {
		pairs, removed, added := g.match()
		for _, pr := range pairs {
			if c, changed := comparePlan(g.label(pr.before), g.before[pr.before], g.after[pr.after]); changed {
				d.Changed = append(d.Changed, c)
			}
		}
		for _, i := range removed {
			d.RemovedPlans = append(d.RemovedPlans, g.label(i))
		}
		for _, j := range added {
			d.AddedPlans = append(d.AddedPlans, g.label(j))
		}
	}

	sort.Strings(d.AddedPlans)
	sort.Strings(d.RemovedPlans)
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Plan < d.Changed[j].Plan })

	if d.IsEmpty() {
		// Hashes can differ without a field-level difference when one side
		// was hashed under an older canonical form.
		return model.ExtractionDiff{Kind: model.DiffUnchanged}
	}
	return d
}

// planGroup holds the plans on each side that share one identity key. The
// key is the plan name, qualified with the billing interval when the name
// appears more than once on either side.
type planGroup struct {
	key    string
	before []model.PlanRecord
	after  []model.PlanRecord
}

type planPair struct {
	before, after int
}

func groupPlans(prev, cur []model.PlanRecord) []*planGroup {
	prevNames := countNames(prev)
	curNames := countNames(cur)
	keyOf := func(p model.PlanRecord) string {
		if prevNames[p.Name] > 1 || curNames[p.Name] > 1 {
			return p.Name + "/" + p.BillingInterval
		}
		return p.Name
	}

	byKey := make(map[string]*planGroup)
	var groups []*planGroup
	get := func(key string) *planGroup {
		g, ok := byKey[key]
		if !ok {
			g = &planGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		return g
	}
	for _, p := range prev {
		g := get(keyOf(p))
		g.before = append(g.before, p)
	}
	for _, p := range cur {
		g := get(keyOf(p))
		g.after = append(g.after, p)
	}
	return groups
}

func countNames(plans []model.PlanRecord) map[string]int {
	n := make(map[string]int, len(plans))
	for _, p := range plans {
		n[p.Name]++
	}
	return n
}

// label names the i-th plan of one side of the group. Groups holding more
// than one plan on either side get a 1-based ordinal in that side's order.
func (g *planGroup) label(i int) string {
	if len(g.before) > 1 || len(g.after) > 1 {
		return g.key + "#" + strconv.Itoa(i+1)
	}
	return g.key
}

// match pairs plans across the two sides. Identical plans pair first; the
// rest pair by nearest price, then by most shared features. Unpaired
// plans are returned as removed (before) and added (after) indexes.
func (g *planGroup) match() (pairs []planPair, removed, added []int) {
	usedB := make([]bool, len(g.before))
	usedA := make([]bool, len(g.after))

	for i, old := range g.before {
		for j, now := range g.after {
			if !usedA[j] && samePlan(old, now) {
				usedB[i], usedA[j] = true, true
				pairs = append(pairs, planPair{i, j})
				break
			}
		}
	}

	type candidate struct {
		planPair
		delta  float64
		shared int
	}
	var cands []candidate
	for i, old := range g.before {
		if usedB[i] {
			continue
		}
		for j, now := range g.after {
			if usedA[j] {
				continue
			}
			cands = append(cands, candidate{
				planPair: planPair{i, j},
				delta:    math.Abs(old.Price - now.Price),
				shared:   len(old.Features) - len(setDifference(old.Features, now.Features)),
			})
		}
	}
	sort.SliceStable(cands, func(x, y int) bool {
		a, b := cands[x], cands[y]
		if a.delta != b.delta {
			return a.delta < b.delta
		}
		return a.shared > b.shared
	})
	for _, c := range cands {
		if usedB[c.before] || usedA[c.after] {
			continue
		}
		usedB[c.before], usedA[c.after] = true, true
		pairs = append(pairs, c.planPair)
	}

	for i, used := range usedB {
		if !used {
			removed = append(removed, i)
		}
	}
	for j, used := range usedA {
		if !used {
			added = append(added, j)
		}
	}
	return pairs, removed, added
}

func samePlan(a, b model.PlanRecord) bool {
	return a.Price == b.Price &&
		a.BillingInterval == b.BillingInterval &&
		slices.Equal(a.Features, b.Features)
}

func comparePlan(key string, old, now model.PlanRecord) (model.PlanChange, bool) {
	c := model.PlanChange{Plan: key}
	changed := false

	if old.Price != now.Price {
		c.PriceChanged = &model.PriceChange{Old: old.Price, New: now.Price}
		changed = true
	}
	if old.BillingInterval != now.BillingInterval {
		c.IntervalChanged = &model.IntervalChange{Old: old.BillingInterval, New: now.BillingInterval}
		changed = true
	}

	c.FeaturesAdded = setDifference(now.Features, old.Features)
	c.FeaturesRemoved = setDifference(old.Features, now.Features)
	if len(c.FeaturesAdded) > 0 || len(c.FeaturesRemoved) > 0 {
		changed = true
	}
	return c, changed
}

// setDifference returns the sorted elements of a that are not in b.
func setDifference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, s := range b {
		in[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := in[s]; !ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
