package main

import (
	"fmt"
)

// partitionRange is the contiguous, inclusive slice of the global
// sequence index space owned by one worker. Computed once at startup.
type partitionRange struct {
	start int64
	end   int64
}

func (p partitionRange) size() int64 {
	return p.end - p.start + 1
}

// partitionSequences assigns rank its share of [0, total-1]. Every
// worker gets total/numWorkers sequences except the last, which absorbs
// the division remainder. This exact split determines which rank
// evaluates which sequences; changing it would break comparability with
// prior runs, so the asymmetry stays.
func partitionSequences(total int64, numWorkers, rank int) (partitionRange, error) {
	if numWorkers <= 0 {
		return partitionRange{}, fmt.Errorf("numWorkers must be positive, got %d", numWorkers)
	}
	if rank < 0 || rank >= numWorkers {
		return partitionRange{}, fmt.Errorf("rank %d out of range [0, %d)", rank, numWorkers)
	}
	if total < int64(numWorkers) {
		return partitionRange{}, fmt.Errorf(
			"%d sequences cannot be split across %d workers", total, numWorkers,
		)
	}

	perWorker := total / int64(numWorkers)
	pr := partitionRange{
		start: perWorker * int64(rank),
		end:   perWorker*int64(rank+1) - 1,
	}
	if rank == numWorkers-1 {
		pr.end = total - 1
	}
	return pr, nil
}
