package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MaxCandidates caps how many ranked matches Search returns.
const MaxCandidates = 5

// maxEditDistance is the largest edit distance still considered a match.
const maxEditDistance = 2

// Candidate is one ranked fuzzy match. Lower Distance ranks higher;
// substring hits rank above pure edit-distance hits.
type Candidate struct {
	Entry    Entry `json:"entry"`
	Distance int   `json:"distance"`
	Exact    bool  `json:"exact"`
}

// Search returns up to MaxCandidates entries matching the query, best first.
// The query is matched against normalized part numbers: exact first, then
// substring containment, then bounded Levenshtein distance.
func (s *Store) Search(ctx context.Context, query string) ([]Candidate, error) {
	if err := s.ensureFresh(ctx); err != nil {
		return nil, err
	}

	key := Normalize(query)
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Candidate
	for _, e := range s.entries {
		ekey := Normalize(e.PartNumber)

		switch {
		case ekey == key:
			out = append(out, Candidate{Entry: e, Distance: 0, Exact: true})
		case strings.Contains(ekey, key) || strings.Contains(key, ekey):
			out = append(out, Candidate{Entry: e, Distance: 1})
		default:
			d := levenshtein.ComputeDistance(ekey, key)
			if d <= maxEditDistance {
				// Offset past substring hits so containment
				// always ranks above a pure edit match.
				out = append(out, Candidate{Entry: e, Distance: d + 1})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Exact != out[j].Exact {
			return out[i].Exact
		}
		return out[i].Distance < out[j].Distance
	})

	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out, nil
}
