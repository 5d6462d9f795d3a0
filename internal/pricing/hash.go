package pricing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
)

// hashVersion is mixed into every hash so a change to the canonical form
// never collides with hashes of the previous form.
const hashVersion = "pricing/v1\n"

// canonicalForm is the hashed subset of a NormalizedExtraction. ExtractedAt
// is excluded so re-captures of an unchanged page hash identically.
type canonicalForm struct {
	Plans []model.PlanRecord `json:"plans"`
}

// ContentHash returns the hex SHA-256 of the canonical JSON encoding of
// ext's plans. ext must already be normalised.
func ContentHash(ext *model.NormalizedExtraction) (string, error) {
	plans := ext.Plans
	if plans == nil {
		plans = []model.PlanRecord{}
	}
	for i := range plans {
		if plans[i].Features == nil {
			plans[i].Features = []string{}
		}
	}
	b, err := json.Marshal(canonicalForm{Plans: plans})
	if err != nil {
		return "", eris.Wrap(err, "pricing: marshal canonical form")
	}
	h := sha256.New()
	h.Write([]byte(hashVersion))
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
