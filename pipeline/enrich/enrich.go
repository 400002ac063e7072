// Package enrich implements C5: extracting quantitative signals from a
// brief and augmenting the graph the parser produced with them.
package enrich

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/talchain/olumi-cee/graph"
)

// Enrich runs the ordered enrichment steps of §4.5 against g using brief
// as the source text, recording extractionMode on ctx.
func Enrich(brief string, g *graph.Graph, ctx *graph.PipelineContext) {
	redirectGoalThreshold(brief, g)

	if allOptionsComplete(g) {
		if ctx != nil {
			ctx.ExtractionMode = "v4_complete_skip"
		}
		return
	}
	if ctx != nil {
		ctx.ExtractionMode = "v4_extracted"
	}

	for _, q := range extractQuantities(brief) {
		applyQuantity(g, q)
	}
}

// allOptionsComplete reports whether every option node's interventions
// map refers only to factors with a finite data.value.
func allOptionsComplete(g *graph.Graph) bool {
	options := g.NodesByKind(graph.KindOption)
	if len(options) == 0 {
		return false
	}
	for _, opt := range options {
		if opt.Option == nil || len(opt.Option.Interventions) == 0 {
			return false
		}
		for factorID := range opt.Option.Interventions {
			factor := g.NodeByID(factorID)
			if factor == nil || factor.Factor == nil || factor.Factor.Value == nil {
				return false
			}
		}
	}
	return true
}

var targetMarketPattern = regexp.MustCompile(`(?i)\btarget\s+market\b`)

// goalTargetPattern matches "target 800 customers", "target of £20k MRR",
// "reach 800 customers" style phrases: a goal verb followed by an
// optional currency symbol, a number (with optional k/m scale or a
// trailing %), and a unit word.
var goalTargetPattern = regexp.MustCompile(`(?i)\b(?:target(?:ing)?|reach(?:ing)?|grow(?:ing)?\s+to)\s+(?:of\s+)?(£|\$|€)?\s*(\d[\d,]*\.?\d*)\s*(k|m)?\s*(%|percent)?\s*([a-zA-Z][a-zA-Z\s]{0,20})?`)

// redirectGoalThreshold implements §4.5 step 1: the first goal node in g
// is annotated with the brief's explicit numeric target, if any.
// Metric-like phrases such as "target market churn is 8%" must not
// trigger redirection, since "target" there qualifies a noun phrase
// rather than naming the decision's own goal.
func redirectGoalThreshold(brief string, g *graph.Graph) {
	goals := g.NodesByKind(graph.KindGoal)
	if len(goals) == 0 {
		return
	}
	if targetMarketPattern.MatchString(brief) {
		brief = targetMarketPattern.ReplaceAllString(brief, "")
	}

	match := goalTargetPattern.FindStringSubmatch(brief)
	if match == nil {
		return
	}

	currency := match[1]
	numberStr := strings.ReplaceAll(match[2], ",", "")
	scale := strings.ToLower(match[3])
	isPercent := match[4] != ""
	unit := strings.TrimSpace(match[5])

	raw, err := strconv.ParseFloat(numberStr, 64)
	if err != nil {
		return
	}
	switch scale {
	case "k":
		raw *= 1000
	case "m":
		raw *= 1_000_000
	}

	goal := goals[0]
	if goal.Goal == nil {
		goal.Goal = &graph.GoalData{}
	}
	goal.Goal.GoalThresholdRaw = &raw

	// Currency symbols are a more reliable unit signal than the trailing
	// label capture, which can run past the number into unrelated words.
	if currency != "" {
		unit = currency
	}
	if unit != "" {
		goal.Goal.GoalThresholdUnit = unit
	}

	if isPercent {
		value := raw / 100
		goal.Goal.GoalThreshold = &value
		goal.Goal.GoalThresholdCap = nil
		return
	}

	cap := nextPowerOfTen(raw)
	goal.Goal.GoalThresholdCap = &cap
	value := raw / cap
	goal.Goal.GoalThreshold = &value
}

func nextPowerOfTen(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return math.Pow(10, math.Ceil(math.Log10(v)))
}

// quantity is one extracted numeric signal from the brief.
type quantity struct {
	label     string
	raw       float64
	isPercent bool
	unit      string
}

var (
	currencyPattern   = regexp.MustCompile(`(?i)(£|\$|€)\s*(\d[\d,]*\.?\d*)\s*(k|m)?\s*([a-zA-Z][a-zA-Z\s]{0,20})?`)
	percentagePattern = regexp.MustCompile(`(?i)(\d[\d,]*\.?\d*)\s*%\s*([a-zA-Z][a-zA-Z\s]{0,20})?`)
	countPattern      = regexp.MustCompile(`(?i)(\d[\d,]*\.?\d*)\s*(k|m)?\s+(customers|users|orders|leads|signups|subscribers)`)
)

// extractQuantities scans brief for currency, count, and percentage
// patterns per §4.5 step 3.
func extractQuantities(brief string) []quantity {
	var out []quantity

	for _, m := range currencyPattern.FindAllStringSubmatch(brief, -1) {
		raw, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		raw = applyScale(raw, m[3])
		label := strings.TrimSpace(m[4])
		if label == "" {
			label = "revenue"
		}
		out = append(out, quantity{label: label, raw: raw, unit: m[1]})
	}

	for _, m := range percentagePattern.FindAllStringSubmatch(brief, -1) {
		raw, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		label := strings.TrimSpace(m[2])
		if label == "" {
			label = "rate"
		}
		out = append(out, quantity{label: label, raw: raw, isPercent: true})
	}

	for _, m := range countPattern.FindAllStringSubmatch(brief, -1) {
		raw, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		raw = applyScale(raw, m[2])
		out = append(out, quantity{label: m[3], raw: raw})
	}

	return out
}

func applyScale(v float64, scale string) float64 {
	switch strings.ToLower(scale) {
	case "k":
		return v * 1000
	case "m":
		return v * 1_000_000
	default:
		return v
	}
}

// labelOverlap reports whether a and b share a significant word, used
// both to match an extracted quantity to an existing factor and to
// suppress duplicate injection (§4.5 steps 3 and 6).
func labelOverlap(a, b string) bool {
	wordsA := strings.Fields(strings.ToLower(a))
	wordsB := strings.Fields(strings.ToLower(b))
	for _, wa := range wordsA {
		if len(wa) < 4 {
			continue
		}
		for _, wb := range wordsB {
			if wa == wb {
				return true
			}
		}
	}
	return false
}

// applyQuantity enhances an existing factor whose label overlaps q, or
// injects a new inferred factor, per §4.5 steps 3-6.
func applyQuantity(g *graph.Graph, q quantity) {
	for _, node := range g.NodesByKind(graph.KindFactor) {
		if labelOverlap(node.Label, q.label) {
			enhanceFactor(node, q)
			return
		}
	}

	node := &graph.Node{
		ID:     "factor-" + strings.ReplaceAll(strings.ToLower(q.label), " ", "-"),
		Kind:   graph.KindFactor,
		Label:  strings.Title(q.label),
		Factor: &graph.FactorData{ExtractionType: graph.ExtractionInferred},
	}
	enhanceFactor(node, q)
	g.Nodes = append(g.Nodes, node)
}

func enhanceFactor(node *graph.Node, q quantity) {
	if node.Factor == nil {
		node.Factor = &graph.FactorData{ExtractionType: graph.ExtractionInferred}
	}
	node.Factor.FactorType = classifyFactorType(node.Label)
	node.Factor.UncertaintyDrivers = uncertaintyDrivers(node.Factor.FactorType)

	if q.isPercent {
		value := q.raw / 100
		node.Factor.Value = &value
		node.Factor.RawValue = &q.raw
		node.Factor.Cap = nil
		return
	}

	cap := nextPowerOfTen(q.raw)
	value := q.raw / cap
	node.Factor.Value = &value
	node.Factor.RawValue = &q.raw
	node.Factor.Cap = &cap
	if q.unit != "" {
		node.Factor.Unit = q.unit
	}
}

func classifyFactorType(label string) graph.FactorType {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "cost"):
		return graph.FactorCost
	case strings.Contains(l, "price"):
		return graph.FactorPrice
	case strings.Contains(l, "time") || strings.Contains(l, "day") || strings.Contains(l, "week"):
		return graph.FactorTime
	case strings.Contains(l, "chance") || strings.Contains(l, "probability") || strings.Contains(l, "rate"):
		return graph.FactorProbability
	case strings.Contains(l, "revenue") || strings.Contains(l, "mrr") || strings.Contains(l, "arr"):
		return graph.FactorRevenue
	case strings.Contains(l, "customer") || strings.Contains(l, "demand") || strings.Contains(l, "user"):
		return graph.FactorDemand
	case strings.Contains(l, "quality"):
		return graph.FactorQuality
	default:
		return graph.FactorOther
	}
}

// uncertaintyDriversTable supplies at least 3 distinct guidance entries
// per factor type where available, per §4.5 step 5.
var uncertaintyDriversTable = map[graph.FactorType][]string{
	graph.FactorCost:        {"supplier pricing volatility", "scope creep", "currency fluctuation"},
	graph.FactorPrice:       {"competitor response", "price elasticity", "market positioning"},
	graph.FactorTime:        {"resourcing delays", "scope changes", "external dependencies"},
	graph.FactorProbability: {"sample size", "measurement bias", "model assumptions"},
	graph.FactorRevenue:     {"churn rate", "seasonality", "pricing changes"},
	graph.FactorDemand:      {"market saturation", "seasonality", "competitor activity"},
	graph.FactorQuality:     {"process variance", "staff turnover", "tooling changes"},
	graph.FactorOther:       {"data quality", "measurement error"},
}

func uncertaintyDrivers(ft graph.FactorType) []string {
	return uncertaintyDriversTable[ft]
}
