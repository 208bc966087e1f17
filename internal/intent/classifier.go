// Package intent implements the local, pattern-based intent classifier.
package intent

import (
	"slices"
	"strings"

	"github.com/ashureev/voxcore/internal/domain"
)

// Confidence assigned to local matches.
const (
	ConfidenceDynamic = 0.95
	ConfidencePattern = 0.9
)

const maxAlternatives = 3

// Classifier resolves utterances against an ordered table of compiled patterns.
// It is safe for concurrent use; all state is read-only after construction.
type Classifier struct {
	rules    []rule
	prefixes []prefixEntry
	aliases  Aliases
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithAliases replaces the built-in alias table.
func WithAliases(a Aliases) Option {
	return func(c *Classifier) { c.aliases = a }
}

// New creates a classifier with the built-in rule and prefix tables.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:    buildRules(),
		prefixes: buildPrefixes(),
		aliases:  DefaultAliases(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Detect resolves a complete utterance. It returns false when nothing matched, which
// callers treat as a classification miss rather than an error.
func (c *Classifier) Detect(text string) (domain.IntentResult, bool) {
	norm := normalizeUtterance(text)
	if norm == "" {
		return domain.IntentResult{}, false
	}

	if res, ok := c.arithmetic(text, norm); ok {
		return res, true
	}

	var (
		best  domain.IntentResult
		found bool
		alts  []domain.IntentKind
	)
	for i := range c.rules {
		rl := &c.rules[i]
		slots, ok := matchRule(rl, norm)
		if !ok {
			continue
		}
		if !found {
			best = c.result(rl, text, slots)
			found = true
			continue
		}
		if rl.kind != best.Kind && !slices.Contains(alts, rl.kind) && len(alts) < maxAlternatives {
			alts = append(alts, rl.kind)
		}
	}
	if !found {
		return domain.IntentResult{}, false
	}
	if len(alts) > 0 {
		best = best.WithAlternatives(alts...)
	}
	return best, true
}

// DetectPartial predicts the intent of an unfinished utterance from its opening words.
// The longest matching prefix wins; its first candidate is the guess and the rest are
// alternatives.
func (c *Classifier) DetectPartial(prefix string) (domain.IntentResult, bool) {
	norm := normalizeUtterance(prefix)
	if norm == "" {
		return domain.IntentResult{}, false
	}
	for _, e := range c.prefixes {
		if !hasWordPrefix(norm, e.prefix) {
			continue
		}
		res := domain.NewIntentResult(e.candidates[0], e.confidence, prefix, nil, domain.ProvenancePartial)
		if len(e.candidates) > 1 {
			res = res.WithAlternatives(e.candidates[1:]...)
		}
		return res, true
	}
	return domain.IntentResult{}, false
}

// Aliases returns the alias table in use.
func (c *Classifier) Aliases() Aliases {
	return c.aliases
}

func (c *Classifier) arithmetic(raw, norm string) (domain.IntentResult, bool) {
	expr := arithmeticCandidate(norm)
	v, ops, err := Evaluate(expr)
	if err != nil || ops == 0 {
		return domain.IntentResult{}, false
	}
	slots := map[string]string{
		"expression": expr,
		"result":     formatNumber(v),
	}
	return domain.NewIntentResult(domain.KindCalculate, ConfidenceDynamic, raw, slots, domain.ProvenanceFast), true
}

func (c *Classifier) result(rl *rule, raw string, slots map[string]string) domain.IntentResult {
	if app, ok := slots["app"]; ok {
		slots["app"] = c.aliases.App(app)
	}
	if _, ok := slots["amount"]; ok {
		cur := c.aliases.Currency(slots["currency"])
		if cur == "" {
			cur = c.aliases.Currency(slots["symbol"])
		}
		delete(slots, "symbol")
		delete(slots, "currency")
		if cur != "" {
			slots["currency"] = cur
		}
	}

	conf := ConfidencePattern
	if rl.dynamic && (rl.needs == "" || slots[rl.needs] != "") {
		conf = ConfidenceDynamic
	}
	return domain.NewIntentResult(rl.kind, conf, raw, slots, domain.ProvenanceFast)
}

// matchRule returns the named captures of the first pattern of rl that matches.
func matchRule(rl *rule, text string) (map[string]string, bool) {
	for _, re := range rl.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		var slots map[string]string
		for i, name := range re.SubexpNames() {
			if name == "" || i >= len(m) {
				continue
			}
			v := strings.TrimSpace(m[i])
			if v == "" {
				continue
			}
			if slots == nil {
				slots = make(map[string]string)
			}
			slots[name] = v
		}
		if slots == nil {
			slots = map[string]string{}
		}
		return slots, true
	}
	return nil, false
}

var utteranceReplacer = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)

// normalizeUtterance lowercases, unifies quotes, collapses whitespace and strips
// trailing sentence punctuation.
func normalizeUtterance(s string) string {
	s = utteranceReplacer.Replace(strings.ToLower(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, "?!., ")
}
