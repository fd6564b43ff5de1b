package concat

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Labeler decides which token ids, if any, to prepend to an encoded
// sentence. Implementations may be stateful (e.g. hold a random source)
// and are not safe for concurrent use unless documented otherwise.
type Labeler interface {
	Decide(sentence string, score float64) []int32
}

// ThresholdLabeler buckets a continuous score against an ascending list
// of cutoffs and prepends the matching sentinel token with probability
// Prob per sentence.
//
// With a single cutoff c, scores below c land in bucket 1 and scores at
// or above c in bucket 0. More generally, a score that clears k cutoffs
// lands in bucket len(cutoffs)-k, so sentinels[0] always holds the
// highest-scoring data.
type ThresholdLabeler struct {
	cutoffs   []float64
	sentinels []int32
	bern      distuv.Bernoulli
}

// NewThresholdLabeler builds a ThresholdLabeler. sentinels must hold
// exactly len(cutoffs)+1 token ids. A nil src leaves the per-sentence
// draw unseeded; pass rand.NewSource(seed) for reproducible labeling.
func NewThresholdLabeler(
	cutoffs []float64,
	sentinels []int32,
	prob float64,
	src rand.Source,
) (*ThresholdLabeler, error) {
	if len(cutoffs) == 0 {
		return nil, fmt.Errorf("at least one score cutoff is required")
	}
	for i := 1; i < len(cutoffs); i++ {
		if cutoffs[i] <= cutoffs[i-1] {
			return nil, fmt.Errorf("score cutoffs must be strictly ascending")
		}
	}
	if len(sentinels) != len(cutoffs)+1 {
		return nil, fmt.Errorf(
			"got %d sentinel tokens for %d cutoffs, want %d",
			len(sentinels), len(cutoffs), len(cutoffs)+1,
		)
	}
	if prob < 0 || prob > 1 {
		return nil, fmt.Errorf("label probability %f outside [0, 1]", prob)
	}
	return &ThresholdLabeler{
		cutoffs:   cutoffs,
		sentinels: sentinels,
		bern:      distuv.Bernoulli{P: prob, Src: src},
	}, nil
}

// Bucket returns the bucket index for score.
func (tl *ThresholdLabeler) Bucket(score float64) int {
	cleared := 0
	for _, c := range tl.cutoffs {
		if score >= c {
			cleared++
		}
	}
	return len(tl.cutoffs) - cleared
}

func (tl *ThresholdLabeler) Decide(_ string, score float64) []int32 {
	if tl.bern.Rand() == 0 {
		return nil
	}
	return []int32{tl.sentinels[tl.Bucket(score)]}
}
