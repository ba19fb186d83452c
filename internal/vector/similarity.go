package vector

import (
	"sort"

	"github.com/hyperjump/docrag/pkg/utils"
)

// Similarity scores a against b under distance d; higher is closer.
func Similarity(d Distance, a, b []float32) float64 {
	switch d {
	case DistanceCosine:
		return utils.Cosine(a, b)
	}
	return 0
}

// rankHits sorts hits by descending score. Hits must arrive in insertion
// order; equal scores keep it.
func rankHits(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func sortBySeq[T any](items []T, seq func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool { return seq(items[i]) < seq(items[j]) })
}
