package llm

import (
	"fmt"
	"strings"

	"github.com/josinaldojr/smart-mrag/internal/rag"
)

var languageNames = map[string]string{
	"en": "English",
	"pt": "Brazilian Portuguese",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"nl": "Dutch",
	"ru": "Russian",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"ar": "Arabic",
	"hi": "Hindi",
}

// buildPrompt returns the system prompt and the user message for one
// question.
func buildPrompt(req rag.GenerateRequest) (string, string) {
	var sys strings.Builder

	target := languageNames[strings.ToLower(req.Lang)]
	if target == "" {
		target = "the same language as the question"
	}

	sys.WriteString("You are an assistant that answers questions about a set of documents. ")
	sys.WriteString("Answer in ")
	sys.WriteString(target)
	sys.WriteString(". ")
	sys.WriteString("Always answer ONLY based on the provided document excerpts. ")
	sys.WriteString("If the answer is not clearly present, say that it is not available in the loaded documents. ")
	sys.WriteString("Do not invent facts, figures, names or quotes. ")
	sys.WriteString("When useful, mention the title of the document the information came from.")

	user := fmt.Sprintf(
		"Question:\n%s\n\nRelevant document excerpts:\n%s",
		strings.TrimSpace(req.Question),
		formatExcerpts(req.Chunks),
	)
	return sys.String(), user
}

func formatExcerpts(chunks []rag.ScoredChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "\n[DOC %d] title=%s source=%s score=%.3f\n",
			c.ID,
			oneLine(c.Title),
			c.Source,
			c.Score,
		)
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteString("\n----\n")
	}
	return b.String()
}

func normalizeWhitespace(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			if !space {
				b.WriteRune(' ')
				space = true
			}
		} else {
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > 160 {
		return string(r[:160]) + "..."
	}
	return s
}
