// Package match ranks candidate deals against a product query using
// brand recognition, category validation, and text similarity. It has
// no knowledge of where candidates come from; callers hand it names
// and prices and get back ranked indexes.
package match

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	_ "embed"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

//go:embed rules.json
var rulesJSON []byte

type categoryRule struct {
	Primary   []string `json:"primary"`
	Secondary []string `json:"secondary"`
	Exclude   []string `json:"exclude"`
}

type ruleSet struct {
	Brands     []string                `json:"brands"`
	Categories map[string]categoryRule `json:"categories"`
}

var (
	nonWordPattern    = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	sizePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ml|l|litre|liter|oz|fl oz|cup|cups)`),
		regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(g|gram|grams|kg|kilogram|lb|lbs|pound|pounds)`),
		regexp.MustCompile(`(\d+)\s*(pack|pk|count|ct|pieces|pcs)`),
		regexp.MustCompile(`(\d+)\s*x\s*(\d+(?:\.\d+)?)\s*(ml|l|oz|g|kg)`),
	}

	volumeUnits = map[string]bool{
		"ml": true, "l": true, "litre": true, "liter": true,
		"fl oz": true, "oz": true, "cup": true, "cups": true,
	}
	weightUnits = map[string]bool{
		"g": true, "gram": true, "grams": true, "kg": true,
		"kilogram": true, "lb": true, "lbs": true, "pound": true, "pounds": true,
	}
	countUnits = map[string]bool{
		"pack": true, "pk": true, "count": true, "ct": true, "pieces": true, "pcs": true,
	}
)

// Options tunes scoring. Zero values mean the production defaults.
type Options struct {
	MinScore          float64
	PartialBrandScore float64
	MaxResults        int
}

// Matcher scores grocery product names. Safe for concurrent use.
type Matcher struct {
	rules             ruleSet
	minScore          float64
	partialBrandScore float64
	maxResults        int
}

func New(opts Options) (*Matcher, error) {
	var rules ruleSet
	if err := json.Unmarshal(rulesJSON, &rules); err != nil {
		return nil, fmt.Errorf("decode matching rules: %w", err)
	}

	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = 0.3
	}
	partialBrandScore := opts.PartialBrandScore
	if partialBrandScore <= 0 {
		partialBrandScore = 0.7
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}

	return &Matcher{
		rules:             rules,
		minScore:          minScore,
		partialBrandScore: partialBrandScore,
		maxResults:        maxResults,
	}, nil
}

var accentFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// NormalizeText lower-cases, folds accented characters onto their ASCII
// skeleton, strips punctuation, and collapses whitespace.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToLower(text)
	if folded, _, err := transform.String(accentFold, text); err == nil {
		text = folded
	}
	text = nonWordPattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

// ExtractBrand returns the first known brand contained in the product
// name, or "" when none is recognized.
func (m *Matcher) ExtractBrand(productName string) string {
	normalized := NormalizeText(productName)
	for _, brand := range m.rules.Brands {
		if strings.Contains(normalized, brand) {
			return brand
		}
	}
	return ""
}

// Measure is a parsed size component such as 500 ml or 12 pack.
type Measure struct {
	Value float64
	Unit  string
}

// SizeInfo carries the size components recognized in a product name.
// RawMatches keeps every matched fragment for inspection; the buckets
// hold only the first recognized measure of each kind.
type SizeInfo struct {
	Volume     *Measure
	Weight     *Measure
	Count      *Measure
	RawMatches []string
}

// ExtractSize pulls volume, weight, and pack-count measures out of a
// product name. Multipack fragments like "6 x 355 ml" are recorded but
// do not claim a bucket; the unit-bearing part matches on its own.
func (m *Matcher) ExtractSize(productName string) SizeInfo {
	var info SizeInfo
	lowered := strings.ToLower(productName)
	for _, pattern := range sizePatterns {
		for _, groups := range pattern.FindAllStringSubmatch(lowered, -1) {
			info.RawMatches = append(info.RawMatches, groups[0])
			value, err := strconv.ParseFloat(groups[1], 64)
			if err != nil {
				continue
			}
			unit := groups[2]
			measure := &Measure{Value: value, Unit: unit}
			switch {
			case volumeUnits[unit] && info.Volume == nil:
				info.Volume = measure
			case weightUnits[unit] && info.Weight == nil:
				info.Weight = measure
			case countUnits[unit] && info.Count == nil:
				info.Count = measure
			}
		}
	}
	return info
}

// CategoryScore rates how strongly a product name belongs to a named
// category. Exclusion keywords veto the whole category: "chocolate
// milk" scores zero for milk no matter what else matches.
func (m *Matcher) CategoryScore(productName, category string) float64 {
	def, ok := m.rules.Categories[category]
	if !ok {
		return 0
	}

	normalized := NormalizeText(productName)
	for _, word := range def.Exclude {
		if strings.Contains(normalized, word) {
			return 0
		}
	}

	score := 0.0
	for _, word := range def.Primary {
		if strings.Contains(normalized, word) {
			score += 0.8
		}
	}
	for _, word := range def.Secondary {
		if strings.Contains(normalized, word) {
			score += 0.3
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

func (m *Matcher) detectCategory(productName string) (string, float64) {
	best := ""
	bestScore := 0.0
	for category := range m.rules.Categories {
		if score := m.CategoryScore(productName, category); score > bestScore {
			best = category
			bestScore = score
		}
	}
	return best, bestScore
}

// Details breaks a match score into its components.
type Details struct {
	TotalScore       float64 `json:"total_score"`
	TextSimilarity   float64 `json:"text_similarity"`
	WordOverlap      float64 `json:"word_overlap"`
	BrandScore       float64 `json:"brand_score"`
	CategoryScore    float64 `json:"category_match_score"`
	QueryBrand       string  `json:"query_brand,omitempty"`
	CandidateBrand   string  `json:"candidate_brand,omitempty"`
	DetectedCategory string  `json:"detected_category,omitempty"`
	IsRelevant       bool    `json:"is_relevant"`
}

// Score rates how well a candidate product name matches a query.
func (m *Matcher) Score(query, candidate string) Details {
	queryBrand := m.ExtractBrand(query)
	candidateBrand := m.ExtractBrand(candidate)

	textSimilarity := textSimilarity(NormalizeText(query), NormalizeText(candidate))
	wordOverlap := wordOverlap(NormalizeText(query), NormalizeText(candidate))

	brandScore := 0.0
	if queryBrand != "" && candidateBrand != "" {
		switch {
		case queryBrand == candidateBrand:
			brandScore = 1.0
		case strings.Contains(candidateBrand, queryBrand) || strings.Contains(queryBrand, candidateBrand):
			brandScore = m.partialBrandScore
		}
	}

	detectedCategory, _ := m.detectCategory(query)
	categoryScore := 0.0
	if detectedCategory != "" {
		categoryScore = m.CategoryScore(candidate, detectedCategory)
	}

	total := textSimilarity*0.3 + wordOverlap*0.3 + brandScore*0.2 + categoryScore*0.2

	return Details{
		TotalScore:       total,
		TextSimilarity:   textSimilarity,
		WordOverlap:      wordOverlap,
		BrandScore:       brandScore,
		CategoryScore:    categoryScore,
		QueryBrand:       queryBrand,
		CandidateBrand:   candidateBrand,
		DetectedCategory: detectedCategory,
		IsRelevant:       total >= m.minScore,
	}
}

// Candidate is a product under consideration for ranking.
type Candidate struct {
	Name  string
	Price float64
}

// Match points back at a ranked candidate by index.
type Match struct {
	Index   int     `json:"index"`
	Score   float64 `json:"match_score"`
	Details Details `json:"match_details"`
	Reason  string  `json:"relevance_reason"`
}

// FilterAndRank scores every candidate against the query, drops the
// irrelevant ones, and returns the rest ordered by score descending
// then price ascending.
func (m *Matcher) FilterAndRank(query string, candidates []Candidate) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, candidate := range candidates {
		if candidate.Name == "" {
			continue
		}
		details := m.Score(query, candidate.Name)
		if !details.IsRelevant {
			continue
		}
		matches = append(matches, Match{
			Index:   i,
			Score:   details.TotalScore,
			Details: details,
			Reason:  relevanceReason(details),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return candidates[matches[a].Index].Price < candidates[matches[b].Index].Price
	})

	if len(matches) > m.maxResults {
		matches = matches[:m.maxResults]
	}
	return matches
}

func relevanceReason(details Details) string {
	var reasons []string
	if details.BrandScore > 0 {
		reasons = append(reasons, "same brand")
	}
	if details.CategoryScore > 0.7 {
		reasons = append(reasons, fmt.Sprintf("same category (%s)", details.DetectedCategory))
	}
	if details.WordOverlap > 0.6 {
		reasons = append(reasons, "similar product name")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "general product similarity")
	}
	return strings.Join(reasons, ", ")
}

// textSimilarity approximates sequence similarity as one minus the
// normalized edit distance between the two strings.
func textSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1.0 - float64(editDistance(a, b))/float64(longest)
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// wordOverlap is the Jaccard index over the two word sets.
func wordOverlap(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	intersection := 0
	union := len(wordsB)
	for word := range wordsA {
		if wordsB[word] {
			intersection++
		} else {
			union++
		}
	}
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(text) {
		set[word] = true
	}
	return set
}
