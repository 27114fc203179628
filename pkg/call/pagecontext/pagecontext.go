// Package pagecontext extracts the title and visible text of an HTML page and
// formats it as the context a conversation is grounded on.
package pagecontext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultMaxChars caps the page text sent to the server.
const DefaultMaxChars = 5000

const maxDocumentBytes = 8 << 20

type Page struct {
	Title string
	URL   string
	// Text is the visible body text with whitespace collapsed.
	Text string
}

// Content renders the page_update payload. Text beyond maxChars characters is
// cut; a non-positive maxChars means DefaultMaxChars.
func (p Page) Content(maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	text := p.Text
	if runes := []rune(text); len(runes) > maxChars {
		text = string(runes[:maxChars])
	}
	return strings.TrimSpace(fmt.Sprintf("Page: %s\nURL: %s\n\nContent:\n%s", p.Title, p.URL, text))
}

// Parse reads an HTML document.
func Parse(r io.Reader, pageURL string) (Page, error) {
	doc, err := html.Parse(io.LimitReader(r, maxDocumentBytes))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	var title strings.Builder
	var body strings.Builder
	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if title.Len() == 0 {
					collectText(n, &title)
				}
				return
			case atom.Body:
				inBody = true
			}
		}
		if n.Type == html.TextNode && inBody {
			body.WriteString(n.Data)
			body.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(doc, false)

	return Page{
		Title: collapse(title.String()),
		URL:   pageURL,
		Text:  collapse(body.String()),
	}, nil
}

// Fetch downloads and parses pageURL.
func Fetch(ctx context.Context, client *http.Client, pageURL string) (Page, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body, pageURL)
}

// ReadFile parses a local HTML file. When pageURL is empty the file URL is used.
func ReadFile(path, pageURL string) (Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return Page{}, fmt.Errorf("open page file: %w", err)
	}
	defer f.Close()
	if pageURL == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		pageURL = "file://" + filepath.ToSlash(abs)
	}
	return Parse(f, pageURL)
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
