// Package classify assigns an observation category from its text using an
// explicit keyword policy table.
package classify

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/starford/mnemo/internal/models"
)

// Rule maps keywords to a category. A keyword matches when it occurs as a
// substring of the case-folded text.
type Rule struct {
	Category models.Category
	Keywords []string
}

// DefaultRules is the built-in policy table. Order matters: it breaks ties.
var DefaultRules = []Rule{
	{Category: models.CategoryBugfix, Keywords: []string{"fix", "bug", "crash", "regression", "broken", "error", "fail"}},
	{Category: models.CategoryGotcha, Keywords: []string{"gotcha", "careful", "beware", "surprising", "unexpected", "caveat", "watch out", "pitfall"}},
	{Category: models.CategoryDecision, Keywords: []string{"decided", "decision", "chose", "choose", "instead of", "trade-off", "tradeoff", "going with"}},
	{Category: models.CategoryPattern, Keywords: []string{"pattern", "convention", "always", "never", "consistently", "idiom"}},
	{Category: models.CategoryFeature, Keywords: []string{"feature", "added", "new ", "support for", "introduce", "enable"}},
	{Category: models.CategoryImplementation, Keywords: []string{"implement", "refactor", "wired", "moved", "extracted", "rewrote"}},
}

// Classifier evaluates a rule table.
type Classifier struct {
	rules    []Rule
	fallback models.Category
}

// New returns a classifier over rules. An invalid fallback becomes
// implementation.
func New(rules []Rule, fallback models.Category) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	if !fallback.Valid() {
		fallback = models.CategoryImplementation
	}
	folded := make([]Rule, len(rules))
	fold := cases.Fold()
	for i, r := range rules {
		kws := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if k = fold.String(k); k != "" {
				kws = append(kws, k)
			}
		}
		folded[i] = Rule{Category: r.Category, Keywords: kws}
	}
	return &Classifier{rules: folded, fallback: fallback}
}

// Classify returns the category whose rule has the most keyword hits in
// text. Ties go to the earlier rule; no hits yields the fallback.
func (c *Classifier) Classify(text string) models.Category {
	t := cases.Fold().String(text)
	best, bestHits := c.fallback, 0
	for _, r := range c.rules {
		hits := 0
		for _, k := range r.Keywords {
			if strings.Contains(t, k) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = r.Category, hits
		}
	}
	return best
}
