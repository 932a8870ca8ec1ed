// Package dedup merges the observation batches of one cycle into a set that
// holds at most one observation per flight identity.
//
// Circles overlap on purpose, so the same aircraft is usually reported by more
// than one query. The first occurrence in circle order is kept; later copies are
// dropped even when they are newer or carry more fields.
package dedup

import "github.com/saviobatista/adsb-area-recorder/internal/types"

// Result is the outcome of a merge
type Result struct {
	Observations []types.Observation
	// Duplicates counts observations dropped because their identity was already seen.
	Duplicates int
	// Anonymous counts observations dropped because they carry neither callsign nor hex.
	Anonymous int
}

// Merge walks batches in order and keeps the first observation per identity
func Merge(batches [][]types.Observation) Result {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	res := Result{Observations: make([]types.Observation, 0, total)}
	seen := make(map[string]struct{}, total)
	for _, batch := range batches {
		for _, obs := range batch {
			id := obs.Identity()
			if id == "" {
				res.Anonymous++
				continue
			}
			if _, dup := seen[id]; dup {
				res.Duplicates++
				continue
			}
			seen[id] = struct{}{}
			res.Observations = append(res.Observations, obs)
		}
	}
	return res
}
