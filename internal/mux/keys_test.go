package mux

import (
	"strings"
	"testing"
	"unicode"
)

func TestChunkText(t *testing.T) {
	long := strings.Repeat("alpha beta gamma ", 20)
	tests := []struct {
		name       string
		text       string
		size       int
		wantChunks int
	}{
		{"empty", "", 100, 0},
		{"short", "hello world", 100, 1},
		{"exact", strings.Repeat("a", 100), 100, 1},
		{"no whitespace", strings.Repeat("x", 250), 100, 1},
		{"long message", long, 100, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkText(tt.text, tt.size)
			if len(chunks) != tt.wantChunks {
				t.Errorf("got %d chunks, want %d: %q", len(chunks), tt.wantChunks, chunks)
			}
			if strings.Join(chunks, "") != tt.text {
				t.Errorf("chunks do not reassemble to the input")
			}
		})
	}
}

func TestChunkText_NeverSplitsWords(t *testing.T) {
	text := strings.Repeat("supercalifragilistic ", 15)
	chunks := ChunkText(text, 100)
	for i, c := range chunks[:len(chunks)-1] {
		next := chunks[i+1]
		last := rune(c[len(c)-1])
		first := rune(next[0])
		if !unicode.IsSpace(last) && !unicode.IsSpace(first) {
			t.Errorf("chunk %d split mid-word: %q | %q", i, c, next)
		}
		if len(c) < 100 {
			t.Errorf("chunk %d shorter than the boundary: %d", i, len(c))
		}
	}
}
