package envelope

import "strings"

// archetypeKeywords is scanned top-to-bottom; the first entry with at
// least one keyword match wins. The precedence order itself is fixed:
// pricing outranks build_vs_buy, which outranks hiring, and so on, so a
// brief mentioning both pricing and hiring language classifies as pricing.
var archetypeKeywords = []struct {
	decisionType string
	keywords     []string
}{
	{"pricing", []string{"price", "pricing", "discount", "tier", "subscription cost"}},
	{"build_vs_buy", []string{"build vs buy", "build or buy", "vendor", "in-house", "outsource"}},
	{"hiring", []string{"hire", "hiring", "candidate", "headcount", "recruit"}},
	{"market_entry", []string{"market entry", "new market", "launch in", "expand into"}},
	{"resource_allocation", []string{"budget allocation", "resource allocation", "reallocate", "prioritize spend"}},
}

// ClassifyArchetype assigns a decision archetype from keyword matches
// across brief and hint. When enabled is false, hint is accepted verbatim
// with match=fuzzy (or "other" if hint is empty). Confidence is high with
// ≥2 total keyword matches, medium with 1, low with 0.
func ClassifyArchetype(brief, hint string, enabled bool) Archetype {
	if !enabled {
		decisionType := hint
		if decisionType == "" {
			decisionType = "other"
		}
		return Archetype{DecisionType: decisionType, Match: MatchFuzzy, Confidence: "medium"}
	}

	haystack := strings.ToLower(brief + " " + hint)

	for _, entry := range archetypeKeywords {
		count := 0
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				count++
			}
		}
		if count == 0 {
			continue
		}
		confidence := "low"
		switch {
		case count >= 2:
			confidence = "high"
		case count == 1:
			confidence = "medium"
		}
		match := MatchFuzzy
		if hint == entry.decisionType {
			match = MatchExact
		}
		return Archetype{DecisionType: entry.decisionType, Match: match, Confidence: confidence}
	}

	return Archetype{DecisionType: "other", Match: MatchGeneric, Confidence: "low"}
}
