package guardrail

import (
	"regexp"
)

// Category names a prohibited-content class.
type Category string

// Pattern categories, in tie-break order. CategoryPolicyReview is reported by
// the LLM stages.
const (
	CategoryFinancialFigures     Category = "financial_figures"
	CategoryQuarterReference     Category = "quarter_reference"
	CategoryCompetitorComparison Category = "competitor_comparison"
	CategoryForwardLooking       Category = "forward_looking"
	CategoryGuarantee            Category = "guarantee"
	CategoryPolicyReview         Category = "policy_review"
)

type patternSet struct {
	category Category
	reason   string
	res      []*regexp.Regexp
}

var patternSets = []patternSet{
	{
		category: CategoryFinancialFigures,
		reason:   "mentions specific financial figures",
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)[$€£¥]\s?\d[\d,.]*(?:\s?(?:k|m|bn?|mm|million|billion|trillion|thousand))?\b`),
			regexp.MustCompile(`(?i)\b\d[\d,.]*\s?(?:million|billion|trillion)\b`),
			regexp.MustCompile(`(?i)\b\d[\d,.]*\s?(?:usd|eur|gbp|dollars|euros)\b`),
			regexp.MustCompile(`(?i)\b(?:revenue|profit|earnings|ebitda|arr|mrr|margin|bookings|sales)\b[^.\n]{0,40}?\d+(?:\.\d+)?\s?%`),
		},
	},
	{
		category: CategoryQuarterReference,
		reason:   "references a fiscal quarter or year",
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b[qh][1-4]\b(?:\s*(?:fy)?\s*'?\d{2,4})?`),
			regexp.MustCompile(`(?i)\bfy\s?'?\d{2,4}\b`),
			regexp.MustCompile(`(?i)\b(?:first|second|third|fourth|last|next|this)\s+(?:fiscal\s+)?quarter\b`),
			regexp.MustCompile(`(?i)\bfiscal\s+(?:year|quarter)\b`),
		},
	},
	{
		category: CategoryCompetitorComparison,
		reason:   "compares against competitors",
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:better|faster|cheaper|stronger|superior|outperform\w*|beats?|unlike)\b[^.\n]{0,40}?\b(?:competitors?|competition|rivals?|alternatives)\b`),
			regexp.MustCompile(`(?i)\b(?:compared\s+(?:to|with)|versus|vs\.?)\s+(?:our\s+|the\s+|other\s+)?(?:competitors?|competition|rivals?)\b`),
			regexp.MustCompile(`(?i)\b(?:market\s+leader|number\s+one\s+in\s+the\s+market|#1\s+in\s+the\s+market)\b`),
		},
	},
	{
		category: CategoryForwardLooking,
		reason:   "makes forward-looking statements",
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bforward[- ]looking\b`),
			regexp.MustCompile(`(?i)\b(?:will|going\s+to|expects?\s+to|plans?\s+to|projected\s+to|forecast(?:s|ed)?\s+to|anticipates?)\b[^.\n]{0,40}?\b(?:grow\w*\s+(?:by\s+)?(?:\d|revenue|sales|profits?|market\s+share)|double|triple|increase\s+(?:revenue|sales|profit|market\s+share)|launch\w*|release\w*|ship\s+by|hit\s+\d)`),
			regexp.MustCompile(`(?i)\b(?:by\s+the\s+end\s+of\s+(?:next\s+)?(?:year|quarter)|upcoming\s+(?:launch|release|acquisition))\b`),
		},
	},
	{
		category: CategoryGuarantee,
		reason:   "makes guarantees or promises of results",
		res: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bguarantee[sd]?\b`),
			regexp.MustCompile(`(?i)\b(?:risk[- ]free|no[- ]risk|zero\s+risk|always\s+works|never\s+fails|can'?t\s+lose)\b`),
			regexp.MustCompile(`(?i)\b(?:100|one\s+hundred)\s?(?:%|percent)\s+(?:certain|sure|success|effective|guaranteed)\b`),
			regexp.MustCompile(`(?i)\bwe\s+promise\b`),
		},
	},
}

// PatternMatch is the leftmost prohibited-pattern hit in a text.
type PatternMatch struct {
	Category Category
	Reason   string
	Text     string
	Offset   int
}

// MatchPatterns scans text against every category and returns the match that
// starts earliest. Two categories matching at the same offset resolve to the
// one listed first. The result does not depend on the order in which the
// categories' patterns appear in the text.
func MatchPatterns(text string) (PatternMatch, bool) {
	best := PatternMatch{Offset: -1}
	for _, set := range patternSets {
		for _, re := range set.res {
			loc := re.FindStringIndex(text)
			if loc == nil {
				continue
			}
			if best.Offset == -1 || loc[0] < best.Offset {
				best = PatternMatch{
					Category: set.category,
					Reason:   set.reason,
					Text:     text[loc[0]:loc[1]],
					Offset:   loc[0],
				}
			}
		}
	}
	return best, best.Offset >= 0
}
