package routing

import (
	"math"
	"sort"

	"github.com/railrun/railrun/internal/config"
)

// Selector scores evaluated candidates and ranks them. Scoring is
// relative: each dimension is min-max normalized over the candidate set,
// so a score only means something within one solve.
type Selector struct {
	Weights config.Weights
}

// scored carries the composite score alongside its candidate
type scored struct {
	Candidate
	Score float64
}

// Rank orders candidates best first. Lower composite score wins; ties
// within epsilon fall through to the structural comparator.
func (s *Selector) Rank(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates
	}

	costMin, costMax := bounds(candidates, func(c Candidate) float64 { return c.Metrics.CostPercent })
	etaMin, etaMax := bounds(candidates, func(c Candidate) float64 { return c.Metrics.ETAHours })
	relMin, relMax := bounds(candidates, func(c Candidate) float64 { return c.Metrics.Reliability })

	list := make([]scored, len(candidates))
	for i, c := range candidates {
		// reliability is a benefit: invert so lower score is better on
		// every axis
		score := s.Weights.Alpha*normalize(c.Metrics.CostPercent, costMin, costMax) +
			s.Weights.Beta*normalize(c.Metrics.ETAHours, etaMin, etaMax) +
			s.Weights.Gamma*(1-normalize(c.Metrics.Reliability, relMin, relMax))
		list[i] = scored{Candidate: c, Score: score}
	}

	sort.SliceStable(list, func(i, j int) bool {
		if math.Abs(list[i].Score-list[j].Score) > scoreEpsilon {
			return list[i].Score < list[j].Score
		}
		return better(list[i].Candidate, list[j].Candidate)
	})

	out := make([]Candidate, len(list))
	for i, sc := range list {
		out[i] = sc.Candidate
	}
	return out
}

func bounds(candidates []Candidate, dim func(Candidate) float64) (float64, float64) {
	min, max := dim(candidates[0]), dim(candidates[0])
	for _, c := range candidates[1:] {
		v := dim(c)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// normalize maps v into [0,1] over [min,max]. A degenerate dimension
// (all candidates equal) contributes 1.0 for everyone, keeping relative
// ordering unaffected.
func normalize(v, min, max float64) float64 {
	if max-min < scoreEpsilon {
		return 1.0
	}
	return (v - min) / (max - min)
}
