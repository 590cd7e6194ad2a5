package stage

import "strconv"

// polyHash implements the deterministic text-sharding hash from the
// coordination protocol: h := 0; for each char c: h := h*31 + ord(c).
func polyHash(s string) int64 {
	var h int64
	for _, c := range s {
		h = h*31 + int64(c)
	}
	return h
}

// ShardBucket resolves the deterministic downstream bucket for a sharding
// column value over n producers. Integer-valued text is parsed and reduced
// by value mod n; otherwise the polynomial hash of the text is reduced mod
// n. An empty value is routed to bucket 0 (documented, not discarded, per
// the sharding-with-empty-key policy chosen for every stage in this repo).
func ShardBucket(value string, n int) int {
	if n <= 0 {
		return 0
	}
	if value == "" {
		return 0
	}
	if iv, err := strconv.ParseInt(value, 10, 64); err == nil {
		bucket := iv % int64(n)
		if bucket < 0 {
			bucket += int64(n)
		}
		return int(bucket)
	}
	bucket := polyHash(value) % int64(n)
	if bucket < 0 {
		bucket += int64(n)
	}
	return int(bucket)
}
