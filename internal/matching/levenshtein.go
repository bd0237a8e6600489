package matching

import "strings"

// levenshteinDistance computes the edit distance between two strings using
// the two-row dynamic programming formulation.
func levenshteinDistance(s1, s2 string) int {
	r1 := []rune(s1)
	r2 := []rune(s2)
	if len(r1) < len(r2) {
		r1, r2 = r2, r1
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i, c1 := range r1 {
		curr[0] = i + 1
		for j, c2 := range r2 {
			cost := 0
			if c1 != c2 {
				cost = 1
			}
			curr[j+1] = min3(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(r2)]
}

// nameSimilarity maps edit distance to a [0,1] similarity. Identical
// strings (after lowercasing and trimming) score 1.0.
func nameSimilarity(s1, s2 string) float64 {
	a := strings.ToLower(strings.TrimSpace(s1))
	b := strings.ToLower(strings.TrimSpace(s2))
	if a == b {
		return 1.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshteinDistance(a, b))/float64(maxLen)
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
