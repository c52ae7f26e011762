package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Split(t *testing.T) {
	t.Run("empty text yields no chunks", func(t *testing.T) {
		s := New(100, 10)
		assert.Empty(t, s.Split(""))
	})

	t.Run("short text yields one chunk", func(t *testing.T) {
		s := New(100, 10)
		chunks := s.Split("hello world")

		require.Len(t, chunks, 1)
		assert.Equal(t, "hello world", chunks[0].Text)
		assert.Equal(t, 0, chunks[0].Index)
		assert.Equal(t, 0, chunks[0].StartChar)
		assert.Equal(t, 11, chunks[0].EndChar)
	})

	t.Run("long text produces overlapping chunks", func(t *testing.T) {
		s := New(50, 10)
		text := strings.Repeat("a", 200)
		chunks := s.Split(text)

		require.Greater(t, len(chunks), 1)
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.Index)
			assert.LessOrEqual(t, len([]rune(chunk.Text)), 50)
		}
		for i := 1; i < len(chunks); i++ {
			assert.Equal(t, chunks[i-1].EndChar-10, chunks[i].StartChar)
		}
	})

	t.Run("prefers paragraph boundary in window tail", func(t *testing.T) {
		s := New(100, 10)
		text := strings.Repeat("x", 92) + "\n\n" + strings.Repeat("y", 100)
		chunks := s.Split(text)

		require.Greater(t, len(chunks), 1)
		assert.True(t, strings.HasSuffix(chunks[0].Text, "\n\n"),
			"first chunk should end at the paragraph break")
	})

	t.Run("falls back to sentence boundary", func(t *testing.T) {
		s := New(100, 10)
		text := strings.Repeat("x", 90) + ". " + strings.Repeat("y", 100)
		chunks := s.Split(text)

		require.Greater(t, len(chunks), 1)
		assert.True(t, strings.HasSuffix(chunks[0].Text, ". "))
	})

	t.Run("boundary outside search tail is ignored", func(t *testing.T) {
		s := New(100, 10)
		// The break sits in the first half of the window, outside the
		// final 20% that findBoundary inspects.
		text := strings.Repeat("x", 30) + "\n\n" + strings.Repeat("y", 200)
		chunks := s.Split(text)

		require.Greater(t, len(chunks), 1)
		assert.Equal(t, 100, chunks[0].EndChar)
	})

	t.Run("offsets reconstruct the text", func(t *testing.T) {
		s := New(80, 20)
		text := "The quick brown fox jumps over the lazy dog. " +
			strings.Repeat("Pack my box with five dozen liquor jugs. ", 10)
		runes := []rune(text)

		for _, chunk := range s.Split(text) {
			assert.Equal(t, string(runes[chunk.StartChar:chunk.EndChar]), chunk.Text)
		}
	})

	t.Run("multi-byte runes keep offsets aligned", func(t *testing.T) {
		s := New(20, 5)
		text := strings.Repeat("日本語のテスト文です。", 10)
		runes := []rune(text)

		for _, chunk := range s.Split(text) {
			assert.Equal(t, string(runes[chunk.StartChar:chunk.EndChar]), chunk.Text)
		}
	})

	t.Run("forward progress with degenerate overlap", func(t *testing.T) {
		s := New(10, 9)
		chunks := s.Split(strings.Repeat("a", 100))

		for i := 1; i < len(chunks); i++ {
			assert.Greater(t, chunks[i].StartChar, chunks[i-1].StartChar)
		}
	})
}

func TestNew_Defaults(t *testing.T) {
	s := New(0, -1)
	assert.Equal(t, DefaultChunkSize, s.size)
	assert.Equal(t, DefaultChunkOverlap, s.overlap)

	s = New(100, 100)
	assert.Equal(t, 100, s.size)
	assert.Less(t, s.overlap, s.size)
}
