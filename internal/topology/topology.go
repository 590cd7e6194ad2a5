// Package topology names the Kafka topics the broker adapter binds to:
// the "<prefix>-<producer_id>.q" queue convention and the "<prefix>.x"
// exchange convention, plus the
// small env-driven conventions the cmd binaries use to parameterize them
// without hardcoding a query's worker counts into the binary itself.
package topology

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// QueueName returns the point-to-point topic name a single producer
// "producerID" writes a queue under prefix to.
func QueueName(prefix, producerID string) string {
	return fmt.Sprintf("%s-%s.q", prefix, producerID)
}

// ExchangeName returns the pub/sub topic name for prefix.
func ExchangeName(prefix string) string {
	return prefix + ".x"
}

// Getenv returns the trimmed environment value for key, or def if unset
// or blank.
func Getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// GetenvInt parses the environment value for key as an int, or returns
// def if unset, blank, or unparsable.
func GetenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetenvCSV splits a comma-separated environment value into trimmed,
// non-empty parts, or returns def if unset.
func GetenvCSV(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
