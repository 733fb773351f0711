package store

import "strings"

// splitChunks cuts s into pieces of at most size code points. Empty input
// gives no chunks.
func splitChunks(s string, size int) []string {
	chunks := []string{}
	start, count := 0, 0
	for i := range s {
		if count == size {
			chunks = append(chunks, s[start:i])
			start, count = i, 0
		}
		count++
	}
	if start < len(s) {
		chunks = append(chunks, s[start:])
	}
	return chunks
}

func joinChunks(chunks []string) string {
	return strings.Join(chunks, "")
}
