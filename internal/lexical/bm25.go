package lexical

import "strings"

// Scorer computes a simplified BM25 without global IDF: term-frequency
// saturation and length normalisation only, with a multiplicative boost
// when query terms hit the document's LLM-selected keywords.
type Scorer struct {
	K1          float64
	B           float64
	AvgDocLen   float64
	BoostFactor float64
}

func NewScorer(k1, b, avgDocLen, boostFactor float64) *Scorer {
	return &Scorer{K1: k1, B: b, AvgDocLen: avgDocLen, BoostFactor: boostFactor}
}

func DefaultScorer() *Scorer {
	return NewScorer(1.2, 0.75, 1000, 1.5)
}

// Score evaluates one document. queryTerms must be tokenised with the same
// pipeline that built the term-frequency map. docLen is the document's
// token count; zero falls back to the configured average.
func (s *Scorer) Score(queryTerms []string, termFrequencies map[string]int, docLen int, keywords []string) float64 {
	if len(queryTerms) == 0 || len(termFrequencies) == 0 {
		return 0
	}

	length := float64(docLen)
	if length <= 0 {
		length = s.AvgDocLen
	}
	lengthNorm := s.K1 * (1 - s.B + s.B*length/s.AvgDocLen)

	var score float64
	for _, term := range queryTerms {
		tf := float64(termFrequencies[term])
		if tf <= 0 {
			continue
		}
		score += tf * (s.K1 + 1) / (tf + lengthNorm)
	}

	// Boost only documents that already match lexically; keywords alone
	// never create a score.
	if score > 0 && len(keywords) > 0 {
		score *= s.keywordBoost(queryTerms, keywords)
	}

	return score
}

func (s *Scorer) keywordBoost(queryTerms []string, keywords []string) float64 {
	lowered := make([]string, len(keywords))
	for i, keyword := range keywords {
		lowered[i] = strings.ToLower(keyword)
	}

	boost := 1.0
	for _, term := range queryTerms {
		for _, keyword := range lowered {
			if strings.Contains(keyword, term) {
				boost *= s.BoostFactor
				break
			}
		}
	}
	return boost
}
