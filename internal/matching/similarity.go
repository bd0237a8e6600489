package matching

import (
	"math"
	"strings"
)

// trigramVector builds a sparse character-trigram frequency vector for a
// name. Padding markers capture word boundaries so "milk" and "milks"
// stay close while "milk" and "silk" diverge at the start.
func trigramVector(s string) map[string]float64 {
	s = strings.ToLower(strings.TrimSpace(s))
	vec := make(map[string]float64)
	for _, word := range strings.Fields(s) {
		padded := "  " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			vec[string(runes[i:i+3])]++
		}
	}
	return vec
}

// cosineSimilarity computes cosine similarity over two sparse vectors.
func cosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for k, va := range a {
		magA += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		magB += vb * vb
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// semanticSimilarity scores two names in [0,1] via trigram cosine. It is
// the in-process stand-in for embedding similarity: deterministic and free
// of network calls, which keeps the matcher a pure function.
func semanticSimilarity(s1, s2 string) float64 {
	return cosineSimilarity(trigramVector(s1), trigramVector(s2))
}
