package resolver

import "github.com/JakeFAU/bytewatch/internal/stream"

// Merge flattens per-source candidates in result order. A URL seen before is
// skipped. A candidate whose label was already used by another source takes
// over that label's slot and the displaced URL is forgotten.
func Merge(results []stream.ExtractionResult) []stream.Candidate {
	out := []stream.Candidate{}
	seen := make(map[string]struct{})
	byLabel := make(map[string]int)
	for _, res := range results {
		for _, c := range res.Candidates {
			if _, dup := seen[c.URL]; dup {
				continue
			}
			seen[c.URL] = struct{}{}
			if i, ok := byLabel[c.Label]; ok && out[i].Source != c.Source {
				delete(seen, out[i].URL)
				out[i] = c
				continue
			}
			byLabel[c.Label] = len(out)
			out = append(out, c)
		}
	}
	return out
}
