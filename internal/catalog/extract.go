package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxContentFileSize = 20 << 20 // 20MB

// ExtractFile returns the text of a content file: extracted text for PDF
// and HTML, the raw contents for anything else.
func ExtractFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading content file: %w", err)
	}
	if info.Size() > maxContentFileSize {
		return "", fmt.Errorf("content file %s is %d bytes, limit is %d", path, info.Size(), maxContentFileSize)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("reading content file: %w", err)
		}
		defer f.Close()
		return ExtractHTML(f)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading content file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return collapseWhitespace(buf.String()), nil
}

// ExtractHTML returns the visible text of an HTML document. Script, style,
// template and noscript contents are skipped.
func ExtractHTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return collapseWhitespace(sb.String()), nil
			}
			return "", fmt.Errorf("parsing html: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			if hidden(atom.Lookup(name)) {
				skip++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if hidden(atom.Lookup(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func hidden(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
