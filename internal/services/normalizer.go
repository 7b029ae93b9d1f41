package services

import "github.com/temcen/fusionrec/pkg/models"

// NormalizedCandidate carries one item's per-source scores after min-max
// scaling within the request.
type NormalizedCandidate struct {
	ItemID string
	Scores [3]float64
	Seen   [3]bool
}

func (c NormalizedCandidate) Score(source models.CandidateSource) float64 {
	return c.Scores[source]
}

// NormalizeScores scales each source's raw scores to [0,1] using the min and
// max of that source in this candidate set. When every raw score of a source
// is equal the source maps to 1.0. Items a source did not produce get 0 for
// it. The result is keyed by item id.
func NormalizeScores(candidates []models.CandidateItem) map[string]*NormalizedCandidate {
	type bounds struct {
		min, max float64
		seen     bool
	}
	var ranges [3]bounds

	raw := make(map[string]*[3]float64, len(candidates))
	out := make(map[string]*NormalizedCandidate, len(candidates))
	for _, c := range candidates {
		nc, ok := out[c.ItemID]
		if !ok {
			nc = &NormalizedCandidate{ItemID: c.ItemID}
			out[c.ItemID] = nc
			raw[c.ItemID] = &[3]float64{}
		}
		// A source lists an item at most once; repeats accumulate.
		raw[c.ItemID][c.Source] += c.RawScore
		nc.Seen[c.Source] = true
	}

	for id, nc := range out {
		for s := range nc.Seen {
			if !nc.Seen[s] {
				continue
			}
			v := raw[id][s]
			r := &ranges[s]
			if !r.seen {
				r.min, r.max, r.seen = v, v, true
				continue
			}
			if v < r.min {
				r.min = v
			}
			if v > r.max {
				r.max = v
			}
		}
	}

	for id, nc := range out {
		for s := range nc.Seen {
			if !nc.Seen[s] {
				continue
			}
			r := ranges[s]
			if r.max == r.min {
				nc.Scores[s] = 1.0
				continue
			}
			nc.Scores[s] = (raw[id][s] - r.min) / (r.max - r.min)
		}
	}
	return out
}
