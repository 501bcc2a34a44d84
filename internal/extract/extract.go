// Package extract turns uploaded file bytes into plain text.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kalambet/docqa/internal/errs"
)

// Supported mime types.
const (
	TypePDF      = "application/pdf"
	TypeHTML     = "text/html"
	TypePlain    = "text/plain"
	TypeMarkdown = "text/markdown"
)

var extTypes = map[string]string{
	".pdf":      TypePDF,
	".html":     TypeHTML,
	".htm":      TypeHTML,
	".txt":      TypePlain,
	".text":     TypePlain,
	".md":       TypeMarkdown,
	".markdown": TypeMarkdown,
	".png":      "image/png",
	".jpg":      "image/jpeg",
	".jpeg":     "image/jpeg",
}

// DetectType resolves the mime type of an upload from its extension, falling
// back to content sniffing.
func DetectType(filename string, data []byte) string {
	if t, ok := extTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return baseType(http.DetectContentType(data))
}

// Text extracts the text content of data. Images and unknown types fail with
// ErrInvalidArgument.
func Text(data []byte, mimeType string) (string, error) {
	switch t := baseType(mimeType); {
	case t == TypePDF:
		return pdfText(data)
	case t == TypeHTML:
		return htmlText(data)
	case t == TypePlain || t == TypeMarkdown:
		return string(data), nil
	case strings.HasPrefix(t, "image/"):
		return "", errs.Invalid("unsupported type %s: image text recognition is not available", t)
	default:
		return "", errs.Invalid("unsupported type %q", mimeType)
	}
}

func baseType(mimeType string) string {
	t, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return t
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errs.Invalid("reading pdf: %v", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return buf.String(), nil
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", errs.Invalid("parsing html: %v", err)
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(parts, "\n"), nil
}
