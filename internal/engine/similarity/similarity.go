// Package similarity flags near-duplicate request titles at submission.
// The heuristic is positional character overlap, not edit distance: it is
// cheap, stable, and known to under-detect reordered-word duplicates.
package similarity

import (
	"sort"
	"strings"
)

// DefaultThreshold is the score at or above which a candidate is reported.
const DefaultThreshold = 0.7

// Normalize lowercases and strips spaces, hyphens and underscores.
func Normalize(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, s)
}

// Score returns a similarity in [0,1]. Containment of one normalized title
// in the other scores exactly 0.9; otherwise the score is the count of
// matching rune positions divided by the longer length.
func Score(a, b string) float64 {
	na := []rune(Normalize(a))
	nb := []rune(Normalize(b))
	if len(na) == 0 || len(nb) == 0 {
		return 0
	}
	if strings.Contains(string(na), string(nb)) || strings.Contains(string(nb), string(na)) {
		return 0.9
	}
	n := len(na)
	if len(nb) < n {
		n = len(nb)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if na[i] == nb[i] {
			matches++
		}
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	return float64(matches) / float64(longest)
}

// Candidate is one existing title scored against a submission.
type Candidate struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Rank scores title against existing id->title pairs and returns candidates
// at or above threshold, highest first.
func Rank(title string, existing map[string]string, threshold float64) []Candidate {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var out []Candidate
	for id, t := range existing {
		if s := Score(title, t); s >= threshold {
			out = append(out, Candidate{ID: id, Title: t, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
