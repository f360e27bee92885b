package feed

import (
	_ "embed"
	"encoding/json"
	"strings"
	"sync"
)

//go:embed categories.json
var categoryRulesJSON []byte

// categoryRule maps one canonical category tag to the keywords that
// imply it. Rules are ordered; the first matching category wins.
type categoryRule struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

var (
	categoryOnce  sync.Once
	categoryRules []categoryRule
)

func loadCategoryRules() []categoryRule {
	categoryOnce.Do(func() {
		if err := json.Unmarshal(categoryRulesJSON, &categoryRules); err != nil {
			// The table is embedded at build time; a decode failure
			// means a broken build, not a runtime condition.
			panic("feed: decode categories.json: " + err.Error())
		}
	})
	return categoryRules
}

// InferCategory derives a canonical lower-case category tag from a
// deal's name and description. Unmatched text yields "other".
func InferCategory(name, description string) string {
	text := strings.ToLower(name + " " + description)
	for _, rule := range loadCategoryRules() {
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, keyword) {
				return rule.Category
			}
		}
	}
	return "other"
}
