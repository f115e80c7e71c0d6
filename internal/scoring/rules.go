package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Virrpe/saaspype-trends/internal/ingest"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// CategoryRule maps keyword hits to a category with a base score.
type CategoryRule struct {
	Category  string   `yaml:"category"`
	Keywords  []string `yaml:"keywords"`
	BaseScore float64  `yaml:"baseScore"`
}

// rulePackFile is the on-disk shape of a scoring rule pack.
type rulePackFile struct {
	Version    string         `yaml:"version"`
	Categories []CategoryRule `yaml:"categories"`
	PainPoints struct {
		Markers []string `yaml:"markers"`
		Boost   float64  `yaml:"boost"`
	} `yaml:"painPoints"`
	Stopwords []string `yaml:"stopwords"`
}

// RuleOracle scores events from a YAML rule pack: category keyword rules,
// pain-point markers that boost the opportunity score, and a stopword list
// for keyword extraction. It works without a rule pack too, falling back to
// built-in defaults, so the pipeline always has a local oracle.
type RuleOracle struct {
	categories []CategoryRule
	markers    []string
	boost      float64
	stopwords  map[string]struct{}
	logger     *slog.Logger
}

// NewRuleOracle loads a rule pack from path. An empty or missing path yields
// an oracle running on the built-in defaults rather than an error; a present
// but malformed file is an error.
func NewRuleOracle(path string, logger *slog.Logger) (*RuleOracle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &RuleOracle{
		categories: defaultCategories(),
		markers:    defaultMarkers(),
		boost:      0.25,
		stopwords:  defaultStopwords(),
		logger:     logger,
	}
	if path == "" {
		logger.Info("scoring rule pack not configured, using built-in rules")
		return o, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("scoring rule pack not found, using built-in rules", slog.String("path", path))
			return o, nil
		}
		return nil, fmt.Errorf("read rule pack %s: %w", path, err)
	}
	var file rulePackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}
	if len(file.Categories) > 0 {
		o.categories = file.Categories
	}
	if len(file.PainPoints.Markers) > 0 {
		o.markers = file.PainPoints.Markers
	}
	if file.PainPoints.Boost > 0 {
		o.boost = file.PainPoints.Boost
	}
	for _, w := range file.Stopwords {
		o.stopwords[strings.ToLower(w)] = struct{}{}
	}
	logger.Info("scoring rule pack loaded",
		slog.String("path", path),
		slog.String("version", file.Version),
		slog.Int("categories", len(o.categories)))
	return o, nil
}

// Score implements Oracle. It never fails; rule evaluation is local.
func (o *RuleOracle) Score(_ context.Context, event models.ContentEvent) (models.ScoreResult, error) {
	normalized := ingest.NormalizeText(event.Text)
	words := strings.Fields(normalized)

	result := models.ScoreResult{
		Keywords: o.extractKeywords(words),
		Category: "general",
	}

	bestScore := 0.0
	bestHits := 0
	for _, rule := range o.categories {
		hits := 0
		for _, kw := range rule.Keywords {
			if containsPhrase(normalized, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := rule.BaseScore
		if score <= 0 {
			score = 0.5
		}
		if hits > bestHits || (hits == bestHits && score > bestScore) {
			result.Category = rule.Category
			bestScore = score
			bestHits = hits
		}
	}
	result.OpportunityScore = bestScore

	markerHits := 0
	for _, m := range o.markers {
		if containsPhrase(normalized, m) {
			markerHits++
		}
	}
	if markerHits > 0 {
		result.OpportunityScore += o.boost * float64(markerHits)
	}
	if result.OpportunityScore > 1 {
		result.OpportunityScore = 1
	}

	// Confidence grows with corroborating evidence: keyword hits from more
	// than one rule source beat a single lucky match.
	result.Confidence = 0.3 + 0.15*float64(bestHits) + 0.1*float64(markerHits)
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

// extractKeywords keeps the most significant non-stopword terms in order of
// frequency, capped so aggregation keys stay bounded.
func (o *RuleOracle) extractKeywords(words []string) []string {
	const maxKeywords = 8
	freq := make(map[string]int)
	order := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, stop := o.stopwords[w]; stop {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// containsPhrase reports whether the normalized text contains the phrase on
// word boundaries.
func containsPhrase(normalized, phrase string) bool {
	phrase = ingest.NormalizeText(phrase)
	if phrase == "" {
		return false
	}
	idx := strings.Index(normalized, phrase)
	for idx >= 0 {
		leftOK := idx == 0 || normalized[idx-1] == ' '
		end := idx + len(phrase)
		rightOK := end == len(normalized) || normalized[end] == ' '
		if leftOK && rightOK {
			return true
		}
		next := strings.Index(normalized[idx+1:], phrase)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func defaultCategories() []CategoryRule {
	return []CategoryRule{
		{Category: "developer-tools", BaseScore: 0.7, Keywords: []string{
			"api", "sdk", "cli", "debugging", "deployment", "testing", "ci cd", "open source",
		}},
		{Category: "productivity", BaseScore: 0.6, Keywords: []string{
			"workflow", "automation", "notes", "calendar", "scheduling", "todo", "time tracking",
		}},
		{Category: "ai-ml", BaseScore: 0.75, Keywords: []string{
			"llm", "machine learning", "prompt", "embedding", "fine tuning", "inference", "chatbot",
		}},
		{Category: "finance", BaseScore: 0.65, Keywords: []string{
			"invoice", "billing", "payments", "accounting", "payroll", "expenses", "subscription",
		}},
		{Category: "marketing", BaseScore: 0.55, Keywords: []string{
			"seo", "analytics", "campaign", "newsletter", "landing page", "conversion",
		}},
	}
}

func defaultMarkers() []string {
	return []string{
		"wish there was", "is there a tool", "so frustrating", "pain point",
		"waste of time", "manually", "spreadsheet hell", "no good solution",
		"why is it so hard", "tired of",
	}
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"the", "and", "for", "that", "this", "with", "you", "have", "but",
		"not", "are", "was", "can", "all", "get", "just", "like", "what",
		"when", "how", "why", "from", "they", "them", "there", "their",
		"about", "would", "could", "should", "been", "being", "has", "had",
		"any", "its", "your", "our", "out", "use", "using", "does", "doing",
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
