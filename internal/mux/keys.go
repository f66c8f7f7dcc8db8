package mux

import (
	"strings"
	"unicode"
)

// ChunkText splits text into pieces of roughly size bytes. Each piece ends
// at the first whitespace at or after the size boundary, so words are never
// split. The whitespace starts the next piece; joining the pieces yields
// text unchanged. A run of text with no later whitespace stays whole.
func ChunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		boundary := start + size
		if boundary >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		idx := strings.IndexFunc(text[boundary:], unicode.IsSpace)
		if idx < 0 {
			chunks = append(chunks, text[start:])
			break
		}
		split := boundary + idx
		chunks = append(chunks, text[start:split])
		start = split
	}
	return chunks
}
