// Package fusion merges multiple rankings with Reciprocal Rank Fusion.
// RRF needs only ranks, so vector similarity and BM25 scores never have to
// be calibrated onto one scale.
package fusion

import "sort"

const DefaultK = 60

// Ranked is one entry of an input ranking, keyed by chunk ID.
type Ranked struct {
	ChunkID int64
	Payload interface{}
}

// Fused is one output entry carrying the combined score. Payload is taken
// from the item's first occurrence across the input rankings.
type Fused struct {
	ChunkID  int64
	RRFScore float64
	Payload  interface{}
}

type Fuser struct {
	k int
}

func New() *Fuser {
	return NewWithK(DefaultK)
}

func NewWithK(k int) *Fuser {
	if k <= 0 {
		k = DefaultK
	}
	return &Fuser{k: k}
}

// Fuse combines rankings: RRF(x) = sum over rankings of 1/(k + rank(x)),
// ranks one-based. Output is sorted by score descending; ties break by
// chunk ID for determinism.
func (f *Fuser) Fuse(rankings ...[]Ranked) []Fused {
	scores := make(map[int64]float64)
	payloads := make(map[int64]interface{})
	var order []int64

	for _, ranking := range rankings {
		for i, item := range ranking {
			rank := i + 1
			if _, seen := scores[item.ChunkID]; !seen {
				order = append(order, item.ChunkID)
				payloads[item.ChunkID] = item.Payload
			}
			scores[item.ChunkID] += 1.0 / float64(f.k+rank)
		}
	}

	fused := make([]Fused, 0, len(order))
	for _, id := range order {
		fused = append(fused, Fused{ChunkID: id, RRFScore: scores[id], Payload: payloads[id]})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	return fused
}
