package rag

import (
	"strings"
	"unicode/utf8"
)

// TextSplitter cuts text into chunks of at most ChunkSize runes. Neighbouring
// chunks share up to ChunkOverlap runes of trailing context.
type TextSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// paragraph, line, word; anything still too long is cut by rune count.
var separators = []string{"\n\n", "\n", " "}

type piece struct {
	text string
	sep  string // placed before text when it isn't the first piece of a chunk
}

func (s TextSplitter) Split(text string) []string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	size := s.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap := s.ChunkOverlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	return merge(splitPieces(text, "", size, 0), size, overlap)
}

func splitPieces(text, lead string, size, level int) []piece {
	if utf8.RuneCountInString(text) <= size {
		return []piece{{text: text, sep: lead}}
	}

	if level >= len(separators) {
		runes := []rune(text)
		out := make([]piece, 0, len(runes)/size+1)
		for start := 0; start < len(runes); start += size {
			end := min(start+size, len(runes))
			sep := ""
			if start == 0 {
				sep = lead
			}
			out = append(out, piece{text: string(runes[start:end]), sep: sep})
		}
		return out
	}

	var parts []string
	if separators[level] == " " {
		parts = strings.Fields(text)
	} else {
		parts = strings.Split(text, separators[level])
	}

	var out []piece
	first := true
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sep := separators[level]
		if first {
			sep = lead
			first = false
		}
		out = append(out, splitPieces(p, sep, size, level+1)...)
	}
	return out
}

func merge(pieces []piece, size, overlap int) []string {
	var chunks []string
	var cur []piece
	curLen := 0

	addLen := func(p piece) int {
		n := utf8.RuneCountInString(p.text)
		if len(cur) > 0 {
			n += utf8.RuneCountInString(p.sep)
		}
		return n
	}

	for _, p := range pieces {
		if len(cur) > 0 && curLen+addLen(p) > size {
			chunks = append(chunks, joinPieces(cur))

			// keep the tail of the flushed chunk as overlap, as long as it
			// still leaves room for p
			for len(cur) > 0 && (curLen > overlap || curLen+addLen(p) > size) {
				drop := utf8.RuneCountInString(cur[0].text)
				if len(cur) > 1 {
					drop += utf8.RuneCountInString(cur[1].sep)
				}
				curLen -= drop
				cur = cur[1:]
			}
		}
		curLen += addLen(p)
		cur = append(cur, p)
	}

	if len(cur) > 0 {
		chunks = append(chunks, joinPieces(cur))
	}
	return chunks
}

func joinPieces(ps []piece) string {
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteString(p.sep)
		}
		b.WriteString(p.text)
	}
	return strings.TrimSpace(b.String())
}
