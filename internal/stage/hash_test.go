package stage

import "testing"

func TestShardBucketDeterministicForText(t *testing.T) {
	n := 4
	first := ShardBucket("2024-07", n)
	for i := 0; i < 5; i++ {
		if got := ShardBucket("2024-07", n); got != first {
			t.Fatalf("expected deterministic bucket %d, got %d on attempt %d", first, got, i)
		}
	}
	if first < 0 || first >= n {
		t.Fatalf("bucket %d out of range [0,%d)", first, n)
	}
}

func TestShardBucketIntegerUsesMod(t *testing.T) {
	if got := ShardBucket("10", 3); got != 1 {
		t.Fatalf("expected 10 mod 3 = 1, got %d", got)
	}
	if got := ShardBucket("9", 3); got != 0 {
		t.Fatalf("expected 9 mod 3 = 0, got %d", got)
	}
}

func TestShardBucketEmptyValueRoutesToZero(t *testing.T) {
	if got := ShardBucket("", 5); got != 0 {
		t.Fatalf("expected empty value to route to bucket 0, got %d", got)
	}
}

func TestPolyHashMatchesSpecFormula(t *testing.T) {
	var want int64
	for _, c := range "ab" {
		want = want*31 + int64(c)
	}
	if got := polyHash("ab"); got != want {
		t.Fatalf("polyHash mismatch: got %d want %d", got, want)
	}
}
