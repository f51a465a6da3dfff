package ratelimit

import "strings"

// buildKey composes the counter key for a (client, resource) pair.
func buildKey(resource, clientKey string) string {
	return sanitizeSegment(resource) + ":" + sanitizeSegment(clientKey)
}

// sanitizeSegment escapes delimiter characters so user-influenced segments
// cannot collide with adjacent buckets. The escape character is escaped first,
// which keeps the mapping injective.
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	return s
}
