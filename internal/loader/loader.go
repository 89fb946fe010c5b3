// Package loader extracts plain text from the document formats a session
// accepts: PDF, HTML, Markdown and plain text.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	pdf "github.com/dslipak/pdf"
	"golang.org/x/net/html"
)

var ErrUnsupported = errors.New("unsupported file type")

// Content is the text of one document.
type Content struct {
	Text  string
	Title string
	Pages int // 0 for formats without pages
}

var supported = map[string]bool{
	".pdf":      true,
	".html":     true,
	".htm":      true,
	".md":       true,
	".markdown": true,
	".txt":      true,
}

func IsSupported(path string) bool {
	return supported[strings.ToLower(filepath.Ext(path))]
}

// Load reads path and returns its text. A missing file yields an error
// matching fs.ErrNotExist; directories and unknown extensions yield
// ErrUnsupported.
func Load(path string) (*Content, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupported, path)
	}
	if !IsSupported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}

	c := &Content{Title: FilenameToTitle(path)}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, pages, err := extractTextFromPDF(path)
		if err != nil {
			return nil, fmt.Errorf("erro lendo pdf %s: %w", path, err)
		}
		c.Text, c.Pages = text, pages

	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("erro lendo %s: %w", path, err)
		}
		title, text := extractMainText(string(data))
		if title != "" {
			c.Title = title
		}
		c.Text = text

	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("erro lendo %s: %w", path, err)
		}
		c.Text = string(data)
	}

	c.Text = strings.TrimSpace(SanitizeUTF8(c.Text))
	return c, nil
}

func FilenameToTitle(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	return strings.TrimSpace(base)
}

// extractMainText returns the <title> and the visible text of an HTML page,
// one text node per line.
func extractMainText(htmlStr string) (string, string) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", ""
	}

	var b strings.Builder
	var title string
	var walk func(*html.Node, bool)

	walk = func(n *html.Node, skip bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template":
				skip = true
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				skip = true
			}
		}

		if n.Type == html.TextNode && !skip {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skip)
		}
	}
	walk(doc, false)

	lines := strings.Split(b.String(), "\n")
	var filtered []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if utf8.RuneCountInString(l) > 1 {
			filtered = append(filtered, l)
		}
	}
	return title, strings.Join(filtered, "\n")
}

func extractTextFromPDF(path string) (text string, pages int, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.Open(path)
	if err != nil {
		return "", 0, err
	}

	reader, err := r.GetPlainText()
	if err != nil {
		return "", 0, err
	}

	buf := bytes.NewBuffer(nil)
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", 0, err
	}

	return buf.String(), r.NumPage(), nil
}

// SanitizeUTF8 remove bytes inválidos para UTF-8 (evita erro 22021 no Postgres)
func SanitizeUTF8(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			// byte inválido: descarta
			s = s[1:]
			continue
		}
		b.WriteRune(r)
		s = s[size:]
	}
	// NUL também é rejeitado pelo Postgres
	return strings.ReplaceAll(b.String(), "\x00", "")
}
