package retrieval

import (
	"slices"

	"github.com/ashita-ai/recast/internal/model"
)

// Diversify picks up to topK chunks round-robin across topics. Topics are
// visited in first-seen order, each topic's chunks from most to least
// similar, and a topic drops out once exhausted. The result depends only on
// the input order and scores.
func Diversify(candidates []model.ContextChunk, topK int) []model.ContextChunk {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]model.ContextChunk)
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if _, ok := groups[c.Topic]; !ok {
			order = append(order, c.Topic)
		}
		groups[c.Topic] = append(groups[c.Topic], c)
	}
	for _, topic := range order {
		slices.SortStableFunc(groups[topic], func(a, b model.ContextChunk) int {
			switch {
			case a.Similarity > b.Similarity:
				return -1
			case a.Similarity < b.Similarity:
				return 1
			}
			return 0
		})
	}

	out := make([]model.ContextChunk, 0, min(topK, len(seen)))
	for len(out) < topK && len(order) > 0 {
		next := order[:0]
		for _, topic := range order {
			if len(out) == topK {
				break
			}
			g := groups[topic]
			out = append(out, g[0])
			if len(g) > 1 {
				groups[topic] = g[1:]
				next = append(next, topic)
			}
		}
		order = next
	}
	return out
}
