package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplit_Words(t *testing.T) {
	s := TextSplitter{ChunkSize: 10}
	assert.Equal(t, []string{"aaaa bbbb", "cccc dddd"}, s.Split("aaaa bbbb cccc dddd"))
}

func TestSplit_Overlap(t *testing.T) {
	s := TextSplitter{ChunkSize: 10, ChunkOverlap: 5}
	assert.Equal(t, []string{"aaaa bbbb", "bbbb cccc", "cccc dddd"}, s.Split("aaaa bbbb cccc dddd"))
}

func TestSplit_HardCut(t *testing.T) {
	s := TextSplitter{ChunkSize: 4}
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, s.Split("abcdefghij"))
}

func TestSplit_Paragraphs(t *testing.T) {
	s := TextSplitter{ChunkSize: 20}
	assert.Equal(t, []string{"first para", "second para"}, s.Split("first para\n\nsecond para"))
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	s := TextSplitter{ChunkSize: 100, ChunkOverlap: 10}
	assert.Equal(t, []string{"line one\nline two"}, s.Split("  line one\r\nline two \n"))
}

func TestSplit_Empty(t *testing.T) {
	s := TextSplitter{ChunkSize: 10}
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split(" \n\t "))
}

func TestSplit_InvalidUTF8Dropped(t *testing.T) {
	s := TextSplitter{ChunkSize: 50}
	assert.Equal(t, []string{"ação ok"}, s.Split("ação\xff ok"))
}

func TestSplit_RespectsSizeInRunes(t *testing.T) {
	text := strings.Repeat("órgão público municipal ", 200)
	s := TextSplitter{ChunkSize: 120, ChunkOverlap: 30}

	chunks := s.Split(text)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 120)
		assert.NotEmpty(t, c)
	}
}

func TestSplit_OverlapSharesTail(t *testing.T) {
	words := make([]string, 60)
	for i := range words {
		words[i] = "w" + strings.Repeat("x", i%5)
	}
	s := TextSplitter{ChunkSize: 40, ChunkOverlap: 12}

	chunks := s.Split(strings.Join(words, " "))
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		first := strings.Fields(chunks[i])[0]
		assert.Contains(t, prevWords, first, "chunk %d should start inside chunk %d", i, i-1)
	}
}

func TestSplit_Defaults(t *testing.T) {
	s := TextSplitter{}
	chunks := s.Split(strings.Repeat("a ", 800))
	assert.Len(t, chunks, 2)
}
