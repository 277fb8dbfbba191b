package crank

// CurrentEpoch returns the epoch containing position: position / epochLength
// with floor division. It is monotonic non-decreasing in position.
// epochLength must be positive; callers validate it when reading config.
func CurrentEpoch(position, epochLength uint64) uint64 {
	return position / epochLength
}
