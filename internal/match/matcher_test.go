package match

import (
	"testing"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(Options{})
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	return m
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{"  Starbucks® Coffee!  ", "starbucks coffee"},
		{"Café Américain", "cafe americain"},
		{"2% Milk, 4L", "2 milk 4l"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeText(tc.raw); got != tc.want {
			t.Fatalf("NormalizeText(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestExtractBrand(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	if got := m.ExtractBrand("Starbucks Dark Roast Ground Coffee"); got != "starbucks" {
		t.Fatalf("expected starbucks, got %q", got)
	}
	if got := m.ExtractBrand("Store Brand Cola"); got != "" {
		t.Fatalf("expected no brand, got %q", got)
	}
}

func TestExtractSize(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	info := m.ExtractSize("Natrel 2% Milk 2L")
	if info.Volume == nil || info.Volume.Value != 2 || info.Volume.Unit != "l" {
		t.Fatalf("unexpected volume: %+v", info.Volume)
	}

	info = m.ExtractSize("Chicken Thighs 1.5 kg")
	if info.Weight == nil || info.Weight.Value != 1.5 || info.Weight.Unit != "kg" {
		t.Fatalf("unexpected weight: %+v", info.Weight)
	}

	info = m.ExtractSize("Yogurt 12 pack")
	if info.Count == nil || info.Count.Value != 12 {
		t.Fatalf("unexpected count: %+v", info.Count)
	}
}

func TestExtractSizeFirstMatchWinsPerBucket(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	info := m.ExtractSize("Creamer Duo 500 ml + 1 l")
	if info.Volume == nil || info.Volume.Value != 500 || info.Volume.Unit != "ml" {
		t.Fatalf("expected first volume match to win, got %+v", info.Volume)
	}
	if len(info.RawMatches) < 2 {
		t.Fatalf("expected every fragment retained, got %v", info.RawMatches)
	}
}

func TestExtractSizeMultipack(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	info := m.ExtractSize("Cola 6 x 355 ml")
	if info.Volume == nil || info.Volume.Value != 355 || info.Volume.Unit != "ml" {
		t.Fatalf("unexpected volume: %+v", info.Volume)
	}
	// The multipack count is recorded for inspection but never claims
	// the pack-count bucket.
	if info.Count != nil {
		t.Fatalf("expected no count measure, got %+v", info.Count)
	}

	found := false
	for _, raw := range info.RawMatches {
		if raw == "6 x 355 ml" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected multipack fragment in raw matches, got %v", info.RawMatches)
	}
}

func TestCategoryScoreExclusionVeto(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	if score := m.CategoryScore("Whole Milk 4L", "milk"); score <= 0 {
		t.Fatalf("plain milk should score for milk, got %v", score)
	}
	// Exclusion keywords disqualify outright, even with a primary hit.
	if score := m.CategoryScore("Chocolate Milk 1L", "milk"); score != 0 {
		t.Fatalf("chocolate milk should be vetoed, got %v", score)
	}
	if score := m.CategoryScore("Coffee Maker Deluxe", "coffee"); score != 0 {
		t.Fatalf("coffee maker should be vetoed, got %v", score)
	}
	if score := m.CategoryScore("Anything", "no-such-category"); score != 0 {
		t.Fatalf("unknown category should score 0, got %v", score)
	}
}

func TestScoreBrandAndCategory(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	details := m.Score("Starbucks Coffee", "Starbucks Pike Place Ground Coffee 340g")
	if details.BrandScore != 1.0 {
		t.Fatalf("expected exact brand match, got %v", details.BrandScore)
	}
	if details.DetectedCategory != "coffee" {
		t.Fatalf("expected coffee category, got %q", details.DetectedCategory)
	}
	if !details.IsRelevant {
		t.Fatalf("expected relevant match, got %+v", details)
	}

	unrelated := m.Score("Starbucks Coffee", "Garden Hose 15m")
	if unrelated.IsRelevant {
		t.Fatalf("garden hose should not be relevant to coffee: %+v", unrelated)
	}
}

func TestFilterAndRankOrdersByScoreThenPrice(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)

	candidates := []Candidate{
		{Name: "Whole Milk 4L", Price: 5.49},
		{Name: "Garden Rake", Price: 9.99},
		{Name: "Whole Milk 4L", Price: 4.99},
		{Name: "", Price: 1.00},
	}

	matches := m.FilterAndRank("whole milk", candidates)
	if len(matches) != 2 {
		t.Fatalf("expected 2 relevant matches, got %d", len(matches))
	}
	// Identical names tie on score, so the cheaper deal wins.
	if matches[0].Index != 2 || matches[1].Index != 0 {
		t.Fatalf("unexpected ranking: %+v", matches)
	}
	if matches[0].Reason == "" {
		t.Fatalf("expected a relevance reason")
	}
}

func TestFilterAndRankRespectsMaxResults(t *testing.T) {
	t.Parallel()

	m, err := New(Options{MaxResults: 1})
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	matches := m.FilterAndRank("bread", []Candidate{
		{Name: "White Bread", Price: 2.99},
		{Name: "Multigrain Bread", Price: 3.49},
	})
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
}
